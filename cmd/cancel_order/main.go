package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"standx-maker-go/config"
	"standx-maker-go/internal/container"
)

// 手动撤销一个客户端订单，并打印撤单后的状态。
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	clOrdID := flag.String("id", "", "要撤销的 cl_ord_id")
	timeout := flag.Duration("timeout", 10*time.Second, "请求超时")
	flag.Parse()

	if *clOrdID == "" {
		log.Fatal("需要 -id")
	}
	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	ex, err := container.NewWithConfig(cfg).BuildExchange()
	if err != nil {
		log.Fatalf("初始化网关失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := ex.CancelOrder(ctx, *clOrdID); err != nil {
		log.Fatalf("撤单失败: %v", err)
	}
	fmt.Printf("✅ 已撤销 %s\n", *clOrdID)

	o, err := ex.QueryOrder(ctx, *clOrdID)
	if err != nil {
		log.Printf("查询订单失败: %v", err)
		return
	}
	fmt.Printf("状态: %s 数量: %s 已成交: %s 价格: %s\n", o.Status, o.Qty, o.FillQty, o.Price)
	if o.FillQty.IsPositive() {
		fmt.Printf("⚠️  订单已成交 %s，仓位需要手动处理\n", o.FillQty)
	}
}
