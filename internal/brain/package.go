// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package brain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/pdiddy/bot-engine/pkg/types"
)

// ErrConfiguration reports a malformed or invalid knowledge package.
var ErrConfiguration = errors.New("invalid knowledge package")

// ErrUnknownKnowledge reports a lookup for an id the index does not hold.
var ErrUnknownKnowledge = errors.New("unknown knowledge id")

var zipMagic = []byte("PK\x03\x04")

// Decode parses a knowledge package. Zip archives must hold exactly one
// .json entry; anything else is parsed as JSON directly. Every entry's
// response kind is settled here.
func Decode(data []byte) (*types.KnowledgePackage, error) {
	if bytes.HasPrefix(data, zipMagic) {
		inner, err := unzip(data)
		if err != nil {
			return nil, err
		}
		data = inner
	}

	var pkg types.KnowledgePackage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := Validate(&pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

func unzip(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: reading archive: %v", ErrConfiguration, err)
	}
	var entry *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(strings.ToLower(f.Name), ".json") {
			continue
		}
		if entry != nil {
			return nil, fmt.Errorf("%w: archive holds more than one package", ErrConfiguration)
		}
		entry = f
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: archive holds no package", ErrConfiguration)
	}
	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrConfiguration, entry.Name, err)
	}
	defer rc.Close()
	out, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfiguration, entry.Name, err)
	}
	return out, nil
}

// Validate checks ids and response kinds, inferring the kind of entries that
// do not declare one.
func Validate(pkg *types.KnowledgePackage) error {
	if len(pkg.Knowledge) == 0 {
		return fmt.Errorf("%w: no knowledge entries", ErrConfiguration)
	}
	seen := map[string]bool{}
	for i := range pkg.Knowledge {
		e := &pkg.Knowledge[i]
		if e.ID == "" {
			return fmt.Errorf("%w: entry %d has no id", ErrConfiguration, i)
		}
		if seen[e.ID] {
			return fmt.Errorf("%w: duplicate id %s", ErrConfiguration, e.ID)
		}
		seen[e.ID] = true
		if e.Kind == "" {
			e.Kind = e.InferKind()
		}
		if !e.Kind.Valid() {
			return fmt.Errorf("%w: entry %s has unknown kind %q", ErrConfiguration, e.ID, e.Kind)
		}
		if err := checkKind(e); err != nil {
			return err
		}
	}
	return nil
}

func checkKind(e *types.KnowledgeEntry) error {
	switch e.Kind {
	case types.KindCommand:
		if e.Command == "" {
			return fmt.Errorf("%w: command entry %s has no command", ErrConfiguration, e.ID)
		}
	case types.KindTree:
		if len(e.Nodes) == 0 {
			return fmt.Errorf("%w: tree entry %s has no nodes", ErrConfiguration, e.ID)
		}
	case types.KindSync:
		if len(e.Sync) == 0 {
			return fmt.Errorf("%w: sync entry %s has no slots", ErrConfiguration, e.ID)
		}
	case types.KindBackend, types.KindAsync:
		if e.Backend == nil || e.Backend.Target == "" {
			return fmt.Errorf("%w: %s entry %s has no backend target", ErrConfiguration, e.Kind, e.ID)
		}
	}
	return nil
}
