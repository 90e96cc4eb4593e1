package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/DarbotLM/Detris/internal/config"
	"github.com/DarbotLM/Detris/pkg/logger"
)

// app 保存各子命令共享的运行时状态。
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "detrisd",
		Short:         "Deterministic grid engine with verifiable placement and learning proofs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path := a.configPath
			if path == "" {
				path = os.Getenv("DETRIS_CONFIG")
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.Log); err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "配置文件路径 (YAML/JSON)，默认读取 DETRIS_CONFIG")

	root.AddCommand(
		a.serveCommand(),
		a.challengeCommand(),
		a.playCommand(),
		a.verifyCommand(),
		a.keygenCommand(),
	)
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
