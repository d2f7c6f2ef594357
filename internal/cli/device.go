package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/maxiv-kitscontrols/albaem/internal/config"
	"github.com/maxiv-kitscontrols/albaem/internal/em2"
	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"github.com/maxiv-kitscontrols/albaem/internal/signer"
	"github.com/sirupsen/logrus"
)

func requireHost(cfg *config.Config) error {
	if cfg.Host == "" {
		return &models.AlbaEMError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("host is required (--host, host in config or ALBAEM_HOST)"),
		}
	}
	return nil
}

func openDevice(ctx context.Context, cfg *config.Config) (*em2.Client, error) {
	if err := requireHost(cfg); err != nil {
		return nil, err
	}

	em := em2.New(em2.Options{
		Host:    cfg.Host,
		Port:    cfg.Port,
		Timeout: cfg.Timeout,
		Retries: cfg.Retries,
	})
	if err := em.Open(ctx); err != nil {
		return nil, err
	}
	return em, nil
}

func loadSigner(cfg *config.Config) (signer.Signer, error) {
	if cfg.GPG.Key == "" {
		return nil, nil
	}

	logrus.Debugf("Loading GPG key from %s", cfg.GPG.Key)
	s, err := signer.NewGPGSigner(cfg.GPG.Key, cfg.GPG.Passphrase)
	if err != nil {
		return nil, &models.AlbaEMError{
			Type:    models.ErrSigning,
			Command: cfg.GPG.Key,
			Err:     fmt.Errorf("failed to load GPG key: %w", err),
		}
	}
	return s, nil
}

// parseChannel accepts 1..4, CHAN01 or chan1
func parseChannel(em *em2.Client, s string) (*em2.Channel, error) {
	trimmed := strings.TrimPrefix(strings.ToUpper(s), "CHAN")
	nb, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, models.NewError(models.ErrInvalidAxis, "invalid channel %q", s)
	}
	return em.Channel(nb)
}

// parsePairs splits "ch value ch value..." arguments
func parsePairs(args []string) ([][2]string, error) {
	if len(args) == 0 || len(args)%2 != 0 {
		return nil, models.NewError(models.ErrInvalidConfig, "expected channel/value pairs, got %d arguments", len(args))
	}
	pairs := make([][2]string, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		pairs = append(pairs, [2]string{args[i], args[i+1]})
	}
	return pairs, nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, models.NewError(models.ErrInvalidConfig, "invalid switch value %q (on/off)", s)
}
