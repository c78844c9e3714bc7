package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/handlerstream/pkg/config"
)

var (
	v       = config.New()
	cfg     *config.Config
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:          "handlerstream",
	Short:        "Share, relay and render workflow handler event streams",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = c
		initLogger(cfg.Log)
		return nil
	},
}

func initLogger(lc config.LogConfig) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if lc.Level != "" {
		if l, err := zerolog.ParseLevel(lc.Level); err == nil {
			zerolog.SetGlobalLevel(l)
		}
	}
	if lc.WithCaller {
		log.Logger = log.Logger.With().Caller().Logger()
	}
}

func bindFlag(key string, cmd *cobra.Command, name string) {
	f := cmd.Flags().Lookup(name)
	if f == nil {
		f = cmd.PersistentFlags().Lookup(name)
	}
	cobra.CheckErr(v.BindPFlag(key, f))
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./handlerstream.yaml)")
	pf.String("log-level", "", "Global log level (trace, debug, info, warn, error)")
	pf.Bool("with-caller", false, "Include caller (file:line) in logs")
	pf.String("upstream", "", "Base URL of the workflow server")
	pf.String("framing", "", "Upstream framing (ndjson, sse, websocket, redis)")
	pf.Bool("include-internal", false, "Request internal handler events as well")
	bindFlag("log.level", rootCmd, "log-level")
	bindFlag("log.with_caller", rootCmd, "with-caller")
	bindFlag("upstream.base_url", rootCmd, "upstream")
	bindFlag("upstream.framing", rootCmd, "framing")
	bindFlag("upstream.include_internal", rootCmd, "include-internal")

	rootCmd.AddCommand(newServeCommand(), newWatchCommand(), newPublishCommand())
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
