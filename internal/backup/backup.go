// SPDX-FileCopyrightText: 2026 qvm-remote contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package backup exports and restores the client's non-secret state as
// a gzip compressed cpio archive.
//
// A backup contains the audit log, the command history and a masked key
// fingerprint. The full authentication key is never written to a
// backup; restoring a backup never restores a key.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cavaliergopher/cpio"
	"github.com/klauspost/compress/gzip"
)

// Archive member names.
const (
	auditName       = "audit.log"
	historyPrefix   = "history"
	fingerprintName = "key-fingerprint.txt"
	metaName        = "backup-meta.txt"
)

// Create writes a backup of the given data directory to dest. The
// fingerprint argument is the masked key fingerprint to embed, or empty
// when no key exists.
func Create(dataDir, dest, fingerprint string) error {
	err := os.MkdirAll(filepath.Dir(dest), 0o700)
	if err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".backup-*")
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}

	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	err = writeArchive(tmp, dataDir, fingerprint)
	if err != nil {
		_ = tmp.Close()
		return err
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("close backup file: %w", err)
	}

	err = os.Rename(tmp.Name(), dest)
	if err != nil {
		return fmt.Errorf("publish backup file: %w", err)
	}

	return nil
}

func writeArchive(w io.Writer, dataDir, fingerprint string) error {
	gz := gzip.NewWriter(w)
	archive := cpio.NewWriter(gz)

	meta := fmt.Sprintf(
		"created_at=%s\nsource=%s\n",
		time.Now().Format(time.RFC3339),
		filepath.Base(dataDir),
	)

	err := writeMember(archive, metaName, []byte(meta))
	if err != nil {
		return err
	}

	if fingerprint != "" {
		err = writeMember(archive, fingerprintName, []byte(fingerprint+"\n"))
		if err != nil {
			return err
		}
	}

	auditData, err := os.ReadFile(filepath.Join(dataDir, auditName))
	if err == nil {
		err = writeMember(archive, auditName, auditData)
		if err != nil {
			return err
		}
	}

	err = writeHistory(archive, dataDir)
	if err != nil {
		return err
	}

	err = archive.Close()
	if err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	err = gz.Close()
	if err != nil {
		return fmt.Errorf("close compressor: %w", err)
	}

	return nil
}

func writeHistory(archive *cpio.Writer, dataDir string) error {
	root := filepath.Join(dataDir, historyPrefix)

	return filepath.WalkDir(root, func(
		path string, entry os.DirEntry, err error,
	) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if entry.IsDir() || entry.Name()[0] == '.' {
			return nil
		}

		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return fmt.Errorf("history member name: %w", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read history member: %w", err)
		}

		return writeMember(archive, filepath.ToSlash(rel), data)
	})
}

func writeMember(archive *cpio.Writer, name string, data []byte) error {
	header := &cpio.Header{
		Name: name,
		Mode: 0o600,
		Size: int64(len(data)),
	}

	err := archive.WriteHeader(header)
	if err != nil {
		return fmt.Errorf("write header for %s: %w", name, err)
	}

	_, err = archive.Write(data)
	if err != nil {
		return fmt.Errorf("write body for %s: %w", name, err)
	}

	return nil
}

type member struct {
	name string
	data []byte
}

// Restore extracts a backup archive into destDir. Every member name is
// validated before anything is written: an absolute name or one
// containing a ".." element rejects the whole operation and extracts
// zero files.
func Restore(src, destDir string) error {
	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open backup file: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("read backup compression: %w", err)
	}

	archive := cpio.NewReader(gz)

	var members []member

	for {
		header, err := archive.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return fmt.Errorf("read archive header: %w", err)
		}

		err = validateMemberName(header.Name)
		if err != nil {
			return err
		}

		if !header.Mode.IsRegular() {
			continue
		}

		data, err := io.ReadAll(archive)
		if err != nil {
			return fmt.Errorf("read member %s: %w", header.Name, err)
		}

		members = append(members, member{name: header.Name, data: data})
	}

	for _, m := range members {
		path := filepath.Join(destDir, filepath.FromSlash(m.name))

		err := os.MkdirAll(filepath.Dir(path), 0o700)
		if err != nil {
			return fmt.Errorf("create member directory: %w", err)
		}

		err = os.WriteFile(path, m.data, 0o600)
		if err != nil {
			return fmt.Errorf("write member %s: %w", m.name, err)
		}
	}

	return nil
}

func validateMemberName(name string) error {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return &UnsafePathError{Path: name}
	}

	for _, element := range strings.Split(filepath.ToSlash(name), "/") {
		if element == ".." {
			return &UnsafePathError{Path: name}
		}
	}

	return nil
}

// Info describes one backup file found by [List].
type Info struct {
	Name     string
	Size     int64
	Modified time.Time
}

// List returns the backup files in the given directory, newest first.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("list backups: %w", err)
	}

	var infos []Info

	for _, entry := range entries {
		if entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		infos = append(infos, Info{
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}

	slices.SortFunc(infos, func(a, b Info) int {
		return b.Modified.Compare(a.Modified)
	})

	return infos, nil
}
