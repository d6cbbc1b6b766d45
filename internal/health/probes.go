package health

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
)

// Verifier is satisfied by ledger.Ledger.
type Verifier interface {
	Verify(ctx context.Context) error
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LedgerProbe re-verifies the whole hash chain.
func LedgerProbe(v Verifier) Probe {
	return v.Verify
}

// PingProbe checks a database connection.
func PingProbe(p Pinger) Probe {
	return p.Ping
}

// DirProbe checks that dir exists on fsys and is a directory.
func DirProbe(fsys afero.Fs, dir string) Probe {
	return func(context.Context) error {
		fi, err := fsys.Stat(dir)
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		return nil
	}
}
