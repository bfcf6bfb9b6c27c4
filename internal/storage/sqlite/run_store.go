package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/banshee-data/cropseq/internal/parcel"
	"github.com/banshee-data/cropseq/internal/pipeline"
	"github.com/banshee-data/cropseq/internal/raster"
	"github.com/banshee-data/cropseq/internal/tiling"
)

// Run status values.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("sqlite: run not found")

// Run is the persisted header of one engine run.
type Run struct {
	RunID      string          `json:"run_id"`
	StartedAt  int64           `json:"started_at"`
	FinishedAt int64           `json:"finished_at,omitempty"`
	Status     string          `json:"status"`
	ConfigJSON json.RawMessage `json:"config_json,omitempty"`
	Spec       raster.GridSpec `json:"spec"`
	Years      []int           `json:"years"`
	Parcels    int             `json:"parcels"`
	Stitched   int             `json:"stitched"`
	Gaps       int             `json:"gaps"`
}

// RunStore persists runs, their tile manifests and their parcels.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// CreateRun inserts a run header. If RunID is empty, a UUID is generated.
func (s *RunStore) CreateRun(ctx context.Context, run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().UnixNano()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	spec, err := json.Marshal(run.Spec)
	if err != nil {
		return err
	}
	years, err := json.Marshal(run.Years)
	if err != nil {
		return err
	}
	var cfg interface{}
	if len(run.ConfigJSON) > 0 {
		cfg = string(run.ConfigJSON)
	}
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO csb_runs (run_id, started_at, status, config_json, spec_json, years_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			run.RunID, run.StartedAt, run.Status, cfg, string(spec), string(years))
		return err
	})
}

// FinishRun records the final status and counts of a run.
func (s *RunStore) FinishRun(ctx context.Context, runID, status string, parcels, stitched, gaps int) error {
	return retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE csb_runs
			SET finished_at = ?, status = ?, parcel_count = ?, stitched = ?, gap_count = ?
			WHERE run_id = ?`,
			time.Now().UnixNano(), status, parcels, stitched, gaps, runID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}

// GetRun returns a run header.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	var (
		run              Run
		finished         sql.NullInt64
		cfg              sql.NullString
		specStr, yearStr string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, started_at, finished_at, status, config_json, spec_json, years_json,
		       parcel_count, stitched, gap_count
		FROM csb_runs WHERE run_id = ?`, runID).Scan(
		&run.RunID, &run.StartedAt, &finished, &run.Status, &cfg, &specStr, &yearStr,
		&run.Parcels, &run.Stitched, &run.Gaps)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	run.FinishedAt = finished.Int64
	if cfg.Valid {
		run.ConfigJSON = json.RawMessage(cfg.String)
	}
	if err := json.Unmarshal([]byte(specStr), &run.Spec); err != nil {
		return nil, fmt.Errorf("run %s spec: %w", runID, err)
	}
	if err := json.Unmarshal([]byte(yearStr), &run.Years); err != nil {
		return nil, fmt.Errorf("run %s years: %w", runID, err)
	}
	return &run, nil
}

// InsertManifest stores one row per tile of the manifest.
func (s *RunStore) InsertManifest(ctx context.Context, runID string, m tiling.Manifest) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO csb_tiles (run_id, tile_index, core_row, core_col, core_rows, core_cols,
			                       outcome, attempts, elapsed_ns, reason, cached, polygons)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range m.Tiles {
			if _, err := stmt.ExecContext(ctx, runID, r.Index, r.Core.Row, r.Core.Col, r.Core.Rows, r.Core.Cols,
				r.Outcome.String(), r.Attempts, int64(r.Elapsed), r.Reason, r.Cached, r.Polygons); err != nil {
				return fmt.Errorf("tile %d: %w", r.Index, err)
			}
		}
		return nil
	})
}

// InsertSeams stores the seam reconciliation records of a run.
func (s *RunStore) InsertSeams(ctx context.Context, runID string, seams []tiling.SeamRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO csb_seams (run_id, tile_index, local_id, global_id, cells) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range seams {
			if _, err := stmt.ExecContext(ctx, runID, r.Tile, int64(r.Local), int64(r.Global), r.Cells); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertParcels stores parcels with WKB geometry and JSON categories.
func (s *RunStore) InsertParcels(ctx context.Context, runID string, parcels []pipeline.Parcel) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO csb_parcels (run_id, parcel_id, signature, categories_json, area, footprint_area,
			                         years_cropland, years_barren, geometry)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range parcels {
			cats, err := json.Marshal(p.Categories)
			if err != nil {
				return err
			}
			var geom []byte
			if p.Geometry != nil {
				if geom, err = wkb.Marshal(p.Geometry); err != nil {
					return fmt.Errorf("parcel %d geometry: %w", p.ID, err)
				}
			}
			// Signatures use the full uint64 range; SQLite integers are signed.
			if _, err := stmt.ExecContext(ctx, runID, int64(p.ID), int64(p.Signature), string(cats),
				p.Area, p.FootprintArea, p.YearsCropland, p.YearsBarren, geom); err != nil {
				return fmt.Errorf("parcel %d: %w", p.ID, err)
			}
		}
		return nil
	})
}

// ListParcels returns the parcels of a run in id order.
func (s *RunStore) ListParcels(ctx context.Context, runID string) ([]pipeline.Parcel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT parcel_id, signature, categories_json, area, footprint_area, years_cropland, years_barren, geometry
		FROM csb_parcels WHERE run_id = ? ORDER BY parcel_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.Parcel
	for rows.Next() {
		var (
			p         pipeline.Parcel
			id, sig   int64
			cats      string
			geomBytes []byte
		)
		if err := rows.Scan(&id, &sig, &cats, &p.Area, &p.FootprintArea, &p.YearsCropland, &p.YearsBarren, &geomBytes); err != nil {
			return nil, err
		}
		p.ID, p.Signature = parcel.ID(id), uint64(sig)
		if err := json.Unmarshal([]byte(cats), &p.Categories); err != nil {
			return nil, fmt.Errorf("parcel %d categories: %w", id, err)
		}
		if len(geomBytes) > 0 {
			g, err := wkb.Unmarshal(geomBytes)
			if err != nil {
				return nil, fmt.Errorf("parcel %d geometry: %w", id, err)
			}
			poly, ok := g.(orb.Polygon)
			if !ok {
				return nil, fmt.Errorf("parcel %d geometry is %s", id, g.GeoJSONType())
			}
			p.Geometry = poly
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListGaps returns the tiles of a run that produced no output, for manual
// reprocessing.
func (s *RunStore) ListGaps(ctx context.Context, runID string) ([]tiling.TileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tile_index, core_row, core_col, core_rows, core_cols, outcome, attempts, elapsed_ns,
		       COALESCE(reason, ''), cached, polygons
		FROM csb_tiles WHERE run_id = ? AND outcome = ? ORDER BY tile_index`,
		runID, tiling.OutcomeGap.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tiling.TileRecord
	for rows.Next() {
		var (
			r       tiling.TileRecord
			outcome string
			elapsed int64
		)
		if err := rows.Scan(&r.Index, &r.Core.Row, &r.Core.Col, &r.Core.Rows, &r.Core.Cols, &outcome,
			&r.Attempts, &elapsed, &r.Reason, &r.Cached, &r.Polygons); err != nil {
			return nil, err
		}
		if err := r.Outcome.UnmarshalText([]byte(outcome)); err != nil {
			return nil, err
		}
		r.Elapsed = time.Duration(elapsed)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveResult persists a whole pipeline result under its run id.
func (s *RunStore) SaveResult(ctx context.Context, res *pipeline.Result, configJSON []byte) error {
	run := &Run{
		RunID:      res.RunID,
		StartedAt:  res.Started.UnixNano(),
		ConfigJSON: configJSON,
		Spec:       res.Spec,
		Years:      res.Years,
	}
	if err := s.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	if err := s.InsertManifest(ctx, run.RunID, res.Manifest); err != nil {
		return fmt.Errorf("insert manifest: %w", err)
	}
	if err := s.InsertSeams(ctx, run.RunID, res.Seams); err != nil {
		return fmt.Errorf("insert seams: %w", err)
	}
	if err := s.InsertParcels(ctx, run.RunID, res.Parcels); err != nil {
		return fmt.Errorf("insert parcels: %w", err)
	}
	return s.FinishRun(ctx, run.RunID, StatusComplete, len(res.Parcels), res.Stitched, len(res.Gaps))
}

func (s *RunStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
