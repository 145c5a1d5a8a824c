package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/okian/jobboard/internal/domain/document"
	"github.com/okian/jobboard/internal/domain/errkind"
)

// stagedWrite is a write held until commit. data is nil for a delete.
type stagedWrite struct {
	ref  document.Ref
	data map[string]any
}

// pgTx implements document.Tx. Reads lock the row so a concurrent writer of
// the same document either waits or fails serialization. Writes are staged
// and flushed right before commit, once the commit timestamp is known; reads
// of a staged document see the staged data.
type pgTx struct {
	ctx    context.Context
	tx     pgx.Tx
	store  *Store
	writes []stagedWrite
	staged map[document.Ref]int
}

func newTx(ctx context.Context, tx pgx.Tx, store *Store) *pgTx {
	return &pgTx{ctx: ctx, tx: tx, store: store, staged: make(map[document.Ref]int)}
}

func (t *pgTx) Get(ref document.Ref) (document.Document, bool, error) {
	if i, ok := t.staged[ref]; ok {
		w := t.writes[i]
		if w.data == nil {
			return document.Document{}, false, nil
		}
		return document.Document{ID: ref.ID, Data: document.CloneData(w.data)}, true, nil
	}
	row := t.tx.QueryRow(t.ctx,
		`SELECT id, data, version FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
		ref.Collection, ref.ID)
	d, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return document.Document{}, false, nil
	}
	if err != nil {
		return document.Document{}, false, mapError("postgres.tx.get", err)
	}
	return d, true, nil
}

func (t *pgTx) Set(ref document.Ref, data map[string]any) error {
	if ref.ID == "" {
		return errkind.New("postgres.tx.set", errkind.ErrValidation, "document id is empty")
	}
	if data == nil {
		data = map[string]any{}
	}
	t.stage(stagedWrite{ref: ref, data: data})
	return nil
}

func (t *pgTx) Update(ref document.Ref, fields map[string]any) error {
	cur, ok, err := t.Get(ref)
	if err != nil {
		return err
	}
	if !ok {
		return errkind.New("postgres.tx.update", errkind.ErrNotFound, ref.Collection+"/"+ref.ID+" not found")
	}
	merged := cur.Data
	if merged == nil {
		merged = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		merged[k] = v
	}
	return t.Set(ref, merged)
}

func (t *pgTx) Delete(ref document.Ref) error {
	t.stage(stagedWrite{ref: ref})
	return nil
}

func (t *pgTx) NewRef(collection string) document.Ref {
	return document.Ref{Collection: collection, ID: t.store.newID()}
}

func (t *pgTx) stage(w stagedWrite) {
	if i, ok := t.staged[w.ref]; ok {
		t.writes[i] = w
		return
	}
	t.staged[w.ref] = len(t.writes)
	t.writes = append(t.writes, w)
}

// flush applies the staged writes in order with server timestamps resolved to
// commit and returns the collections it touched.
func (t *pgTx) flush(commit document.Timestamp) (map[string]struct{}, error) {
	touched := make(map[string]struct{})
	for _, w := range t.writes {
		if w.data == nil {
			if _, err := t.tx.Exec(t.ctx,
				`DELETE FROM documents WHERE collection = $1 AND id = $2`, w.ref.Collection, w.ref.ID); err != nil {
				return nil, mapError("postgres.tx.delete", err)
			}
			touched[w.ref.Collection] = struct{}{}
			continue
		}
		const op = "postgres.tx.set"
		raw, err := encode(document.ResolveServerTimestamps(w.data, commit))
		if err != nil {
			return nil, errkind.Wrap(op, errkind.ErrValidation, err)
		}
		if _, err := t.tx.Exec(t.ctx, `
			INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
			ON CONFLICT (collection, id) DO UPDATE
			SET data = EXCLUDED.data, version = nextval('documents_version_seq'), updated_at = now()`,
			w.ref.Collection, w.ref.ID, raw); err != nil {
			return nil, mapError(op, err)
		}
		touched[w.ref.Collection] = struct{}{}
	}
	return touched, nil
}
