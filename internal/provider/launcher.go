package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/paseo-dev/paseod/internal/agent/credentials"
	"github.com/paseo-dev/paseod/internal/apperr"
	"github.com/paseo-dev/paseod/internal/paseolog"
	"go.uber.org/zap"
)

// envPrefix scopes daemon-wide credential overrides, letting an operator
// set PASEO_ANTHROPIC_API_KEY once instead of exporting ANTHROPIC_API_KEY
// into the daemon's own process environment.
const envPrefix = "PASEO_"

// Launch starts cfg's command as a subprocess rooted at cwd and wraps its
// stdin/stdout pipes in an ACPAdapter. This is the one place a provider's
// launch command is provider-specific; everything downstream consumes the
// result through the uniform AgentClient interface. Missing RequiredEnv
// fails fast rather than leaving a half-started subprocess.
func Launch(ctx context.Context, cfg Config, cwd string, log *paseolog.Logger) (*ACPAdapter, error) {
	resolver := credentials.NewResolver(envPrefix)
	if err := resolver.CheckAll(cfg.RequiredEnv); err != nil {
		return nil, apperr.ProviderFatal(fmt.Sprintf("missing required environment variable for provider %s: %v", cfg.ID, err), nil)
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperr.ProviderFatal("failed to open provider stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.ProviderFatal("failed to open provider stdout", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apperr.ProviderFatal(fmt.Sprintf("failed to start provider %s", cfg.ID), err)
	}

	log.Info("launched provider subprocess",
		zap.String("provider", cfg.ID),
		zap.String("command", cfg.Command),
		zap.Int("pid", cmd.Process.Pid),
	)

	go func() {
		if err := cmd.Wait(); err != nil {
			log.Warn("provider subprocess exited", zap.String("provider", cfg.ID), zap.Error(err))
		}
	}()

	return NewACPAdapter(ctx, stdin, io.Reader(stdout), log), nil
}
