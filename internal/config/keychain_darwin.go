//go:build darwin

package config

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// securityItemNotFound is the exit status of `security` for a missing item.
const securityItemNotFound = 44

func keychainLookup(service, account string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx,
		"security", "find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == securityItemNotFound {
			return nil, fmt.Errorf("%s/%s: %w", service, account, errSecretNotFound)
		}
		return nil, fmt.Errorf("keychain lookup %s/%s: %w", service, account, err)
	}
	return out, nil
}
