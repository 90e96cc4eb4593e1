package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/DarbotLM/Detris/pkg/logger"
)

// main 是 Detris 守护进程与命令行工具的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCommand().ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		log.Fatalf("detrisd 运行失败: %v", err)
	}
}
