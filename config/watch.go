package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher 基于 fsnotify 监听配置文件，变更稳定后重新加载并回调。
// 监听所在目录而不是文件本身，编辑器“写临时文件再 rename”也能被捕获。
type Watcher struct {
	Path     string
	Cooldown time.Duration // 最后一次事件后等待该时长再加载
	OnError  func(error)   // 加载或校验失败；旧配置继续生效
}

// Start 阻塞直到 ctx 取消；onUpdate 只会收到校验通过的配置。
func (w Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	if w.Cooldown <= 0 {
		w.Cooldown = 500 * time.Millisecond
	}
	target, err := filepath.Abs(w.Path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			// 只处理写入和创建事件
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(w.Cooldown)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.report(fmt.Errorf("watcher: %w", err))
		case <-timer.C:
			cfg, err := LoadWithEnvOverrides(w.Path)
			if err != nil {
				w.report(fmt.Errorf("reload config: %w", err))
				continue
			}
			if onUpdate != nil {
				onUpdate(cfg)
			}
		}
	}
}

func (w Watcher) report(err error) {
	if w.OnError != nil {
		w.OnError(err)
	}
}
