package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// TokenStore looks up a stored token by organization.
type TokenStore interface {
	Get(organization string) (string, error)
}

// PATSource names where a token came from.
type PATSource string

// Token sources, in lookup order.
const (
	PATFromConfig  PATSource = "config"
	PATFromEnv     PATSource = "env"
	PATFromKeyring PATSource = "keyring"
)

// ErrNoPAT is returned when no source provides a token.
var ErrNoPAT = errors.New("no Azure DevOps personal access token configured")

// ResolvePAT returns the token from ado.pat, then AZURE_DEVOPS_PAT, then
// store. store may be nil.
func (c *Config) ResolvePAT(store TokenStore) (string, PATSource, error) {
	if pat := strings.TrimSpace(c.ADO.PAT); pat != "" {
		return pat, PATFromConfig, nil
	}
	if pat := strings.TrimSpace(os.Getenv(PATEnv)); pat != "" {
		return pat, PATFromEnv, nil
	}
	if store != nil && c.ADO.Organization != "" {
		pat, err := store.Get(c.ADO.Organization)
		if err == nil && strings.TrimSpace(pat) != "" {
			return strings.TrimSpace(pat), PATFromKeyring, nil
		}
	}
	return "", "", fmt.Errorf("%w (set ado.pat, %s, or run 'mantis2ado auth set-pat')", ErrNoPAT, PATEnv)
}
