// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/bot-engine/internal/entity"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// EntitySeed is one entry of an entity YAML file: a type, its values and
// the knowledge entries they relate to.
type EntitySeed struct {
	Type      string   `json:"type" yaml:"type"`
	Values    []string `json:"values" yaml:"values"`
	Removable *bool    `json:"removable,omitempty" yaml:"removable,omitempty"`
	Knowledge []string `json:"knowledge,omitempty" yaml:"knowledge,omitempty"`
}

// FindByValue returns every entity whose value equals value.
func (s *Store) FindByValue(ctx context.Context, value string) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT type, value, length, removable, knowledge FROM entities WHERE value = ? ORDER BY type`),
		value)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var out []types.Entity
	for rows.Next() {
		var (
			e         types.Entity
			removable int
			links     string
		)
		if err := rows.Scan(&e.Type, &e.Value, &e.Length, &removable, &links); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		e.Removable = removable != 0
		if err := json.Unmarshal([]byte(links), &e.Knowledge); err != nil {
			return nil, fmt.Errorf("decoding knowledge links of %s: %w", e.Value, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Observe links e to knowledgeID, creating the entity when missing. It
// reports whether a row or link was added.
func (s *Store) Observe(ctx context.Context, uid string, e types.Entity, knowledgeID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	changed, err := s.observe(ctx, tx, uid, e, knowledgeID)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing entity: %w", err)
	}
	return true, nil
}

func (s *Store) observe(ctx context.Context, tx *sql.Tx, uid string, e types.Entity, knowledgeID string) (bool, error) {
	var raw string
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT knowledge FROM entities WHERE uid = ?`), uid).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		links := []string{}
		if knowledgeID != "" {
			links = append(links, knowledgeID)
		}
		data, _ := json.Marshal(links)
		length := e.Length
		if length == 0 {
			length = len(e.Value)
		}
		if err := s.exec(ctx, tx,
			`INSERT INTO entities (uid, type, value, length, removable, knowledge) VALUES (?, ?, ?, ?, ?, ?)`,
			uid, e.Type, e.Value, length, boolInt(e.Removable), string(data),
		); err != nil {
			return false, fmt.Errorf("inserting entity %s: %w", e.Value, err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("loading entity %s: %w", e.Value, err)
	}

	var links []string
	if err := json.Unmarshal([]byte(raw), &links); err != nil {
		return false, fmt.Errorf("decoding knowledge links of %s: %w", e.Value, err)
	}
	if knowledgeID == "" || contains(links, knowledgeID) {
		return false, nil
	}
	links = append(links, knowledgeID)
	sort.Strings(links)
	data, _ := json.Marshal(links)
	if err := s.exec(ctx, tx, `UPDATE entities SET knowledge = ? WHERE uid = ?`, string(data), uid); err != nil {
		return false, fmt.Errorf("linking entity %s: %w", e.Value, err)
	}
	return true, nil
}

// ImportEntities reads a YAML list of EntitySeed from r and records every
// value in a single transaction. It returns the number of entities or links
// added. Values are stored lowercased and trimmed.
func (s *Store) ImportEntities(ctx context.Context, r io.Reader) (int, error) {
	var seeds []EntitySeed
	if err := yaml.NewDecoder(r).Decode(&seeds); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("parsing entity seeds: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	added := 0
	for _, seed := range seeds {
		if seed.Type == "" {
			return 0, fmt.Errorf("entity seed without type")
		}
		removable := seed.Removable == nil || *seed.Removable
		for _, v := range seed.Values {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "" {
				continue
			}
			e := types.Entity{Type: seed.Type, Value: v, Length: len(v), Removable: removable}
			links := seed.Knowledge
			if len(links) == 0 {
				links = []string{""}
			}
			for _, k := range links {
				changed, err := s.observe(ctx, tx, entity.UID(seed.Type, v), e, k)
				if err != nil {
					return 0, err
				}
				if changed {
					added++
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing entity seeds: %w", err)
	}
	return added, nil
}

// ExportEntities writes every stored entity to w as YAML seeds grouped by
// type, removability and knowledge links.
func (s *Store) ExportEntities(ctx context.Context, w io.Writer) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, value, removable, knowledge FROM entities ORDER BY type, value`)
	if err != nil {
		return fmt.Errorf("querying for export: %w", err)
	}
	defer rows.Close()

	index := map[string]int{}
	var seeds []EntitySeed
	for rows.Next() {
		var (
			typ, value, links string
			removable         int
		)
		if err := rows.Scan(&typ, &value, &removable, &links); err != nil {
			return fmt.Errorf("scanning entity: %w", err)
		}
		var knowledge []string
		if err := json.Unmarshal([]byte(links), &knowledge); err != nil {
			return fmt.Errorf("decoding knowledge links of %s: %w", value, err)
		}
		key := fmt.Sprintf("%s\x00%d\x00%s", typ, removable, strings.Join(knowledge, ","))
		i, ok := index[key]
		if !ok {
			r := removable != 0
			index[key] = len(seeds)
			seeds = append(seeds, EntitySeed{Type: typ, Removable: &r, Knowledge: knowledge})
			i = len(seeds) - 1
		}
		seeds[i].Values = append(seeds[i].Values, value)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	data, err := yaml.Marshal(seeds)
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
