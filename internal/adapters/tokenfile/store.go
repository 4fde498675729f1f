// Package tokenfile persiste el token set OAuth en un archivo JSON compartido
// por todos los procesos de la sesión.
package tokenfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// Store implementa ports.CredentialStore y ports.TokenSource sobre un archivo JSON.
type Store struct {
	path string
	mu   sync.Mutex
}

// New crea un Store para path. El archivo no tiene que existir todavía.
func New(path string) *Store {
	return &Store{path: path}
}

// Path devuelve la ruta del archivo de tokens.
func (s *Store) Path() string { return s.path }

// Load lee y valida el TokenSet.
func (s *Store) Load(_ context.Context) (domain.TokenSet, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.TokenSet{}, fmt.Errorf("tokenfile.Load: %s: %w", s.path, domain.ErrTokenNotFound)
	}
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("tokenfile.Load: read %s: %w", s.path, err)
	}

	var tok domain.TokenSet
	if err := json.Unmarshal(data, &tok); err != nil {
		return domain.TokenSet{}, fmt.Errorf("tokenfile.Load: %s: %w: %v", s.path, domain.ErrTokenCorrupt, err)
	}
	if !tok.Complete() {
		return domain.TokenSet{}, fmt.Errorf("tokenfile.Load: %s: %w: missing tokens", s.path, domain.ErrTokenCorrupt)
	}
	return tok, nil
}

// Save escribe en un temporal del mismo directorio y hace rename, así un crash
// a mitad de escritura nunca deja un archivo corrupto.
func (s *Store) Save(_ context.Context, tok domain.TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile.Save: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("tokenfile.Save: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile.Save: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op después del rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile.Save: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile.Save: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile.Save: close: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("tokenfile.Save: chmod: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("tokenfile.Save: rename: %w", err)
	}
	return nil
}

// Delete borra el archivo de tokens.
func (s *Store) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile.Delete: %w", err)
	}
	return nil
}

// AccessToken lee el archivo en cada llamada: otro proceso puede haberlo refrescado.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	tok, err := s.Load(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
