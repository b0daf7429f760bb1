package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/bootstrap"
	"github.com/Zhima-Mochi/minishop-checkout/internal/config"
	infraObs "github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/zaplogger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const flushTimeout = 5 * time.Second

func newRootCmd() *cobra.Command {
	var verbose bool
	rootCmd := &cobra.Command{
		Use:           "minishopctl",
		Short:         "Operator tools for the minishop checkout service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log use case activity to stderr")

	open := func(cmd *cobra.Command) (*session, error) {
		return openSession(cmd.Context(), verbose)
	}

	rootCmd.AddCommand(reconcileCmd(open))
	rootCmd.AddCommand(restockCmd(open))
	rootCmd.AddCommand(auditCmd(open))
	rootCmd.AddCommand(seedCmd(open))
	return rootCmd
}

type opener func(cmd *cobra.Command) (*session, error)

// session is one command's view of the service's stores.
type session struct {
	core   *bootstrap.Core
	logger *zaplogger.Logger
}

func openSession(ctx context.Context, verbose bool) (*session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.StoreDriver == config.StoreMemory {
		return nil, errors.New("minishopctl: STORE_DRIVER=memory has nothing to operate on; use sqlite or postgres")
	}

	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zl, err := zcfg.Build(zap.Fields(zap.String("service", "minishopctl")))
	if err != nil {
		return nil, fmt.Errorf("minishopctl: logger: %w", err)
	}
	logger := zaplogger.Wrap(zl)

	stores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tel := infraObs.New(oteltrace.New("minishopctl", Version), logger, nil)
	return &session{core: bootstrap.NewCore(stores, nil, tel), logger: logger}, nil
}

// Close waits for pending audit writes before closing the stores.
func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	auditErr := s.core.Audit.Close(ctx)
	storeErr := s.core.Stores.Close()
	_ = s.logger.Sync()
	return errors.Join(auditErr, storeErr)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
