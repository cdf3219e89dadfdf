package checkpoint

import(
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/abworrall/ringstitch/pkg/pano"
)

const(
	kindRing      = "ring"
	kindOptograph = "optograph"

	indexFile     = "index.db"
)

// DirStore keeps its pixels as TIFF images and PNG masks in a directory,
// and everything else in a SQLite index alongside them.
type DirStore struct {
	Dir    string
	DB     *sql.DB
	Logger *zap.SugaredLogger
}

// OpenDirStore opens (or creates) a store in dir, and ensures the schema.
func OpenDirStore(dir string, logger *zap.SugaredLogger) (*DirStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "mkdir '%s'", dir)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, indexFile))
	if err != nil {
		return nil, errors.Wrapf(err, "open index in '%s'", dir)
	}
	s := &DirStore{Dir: dir, DB: db, Logger: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "index schema")
	}
	return s, nil
}

func (s *DirStore)ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS images (
            id INTEGER PRIMARY KEY,
            ring INTEGER NOT NULL,
            position INTEGER NOT NULL,
            path TEXT NOT NULL,
            orientation_json TEXT NOT NULL,
            focal REAL,
            principal_x REAL,
            principal_y REAL,
            ref_width REAL
        );`,
		`CREATE TABLE IF NOT EXISTS gains (
            image_id INTEGER PRIMARY KEY,
            gain REAL NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS artifacts (
            kind TEXT NOT NULL,
            id INTEGER NOT NULL,
            image_path TEXT NOT NULL,
            mask_path TEXT NOT NULL,
            corner_x INTEGER NOT NULL,
            corner_y INTEGER NOT NULL,
            cores_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            PRIMARY KEY (kind, id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_images_ring ON images(ring, position);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *DirStore)Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *DirStore)LoadStitcherInput() ([]pano.Ring, map[int]float64, error) {
	rows, err := s.DB.Query(`SELECT id, ring, path, orientation_json, focal, principal_x, principal_y, ref_width FROM images ORDER BY ring, position;`)
	if err != nil {
		return nil, nil, errors.Wrap(err, "query images")
	}
	defer rows.Close()

	rings := []pano.Ring{}
	for rows.Next() {
		img := &pano.Image{}
		var ring int
		var orientation string
		if err := rows.Scan(&img.ID, &ring, &img.Path, &orientation, &img.Intrinsics.Focal,
			&img.Intrinsics.PrincipalX, &img.Intrinsics.PrincipalY, &img.Intrinsics.RefWidth); err != nil {
			return nil, nil, errors.Wrap(err, "scan image")
		}
		if err := json.Unmarshal([]byte(orientation), &img.Orientation); err != nil {
			return nil, nil, errors.Wrapf(err, "image %d orientation", img.ID)
		}
		for len(rings) <= ring {
			rings = append(rings, pano.Ring{})
		}
		rings[ring] = append(rings[ring], img)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	gains := map[int]float64{}
	grows, err := s.DB.Query(`SELECT image_id, gain FROM gains;`)
	if err != nil {
		return nil, nil, errors.Wrap(err, "query gains")
	}
	defer grows.Close()
	for grows.Next() {
		var id int
		var g float64
		if err := grows.Scan(&id, &g); err != nil {
			return nil, nil, errors.Wrap(err, "scan gain")
		}
		gains[id] = g
	}
	return rings, gains, grows.Err()
}

// SaveStitcherInput replaces the stored capture. Images that only exist
// in memory are written out as TIFFs, so the store is self-contained.
func (s *DirStore)SaveStitcherInput(rings []pano.Ring, gains map[int]float64) error {
	if err := checkInput(rings, gains); err != nil {
		return err
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM images;`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM gains;`); err != nil {
		return err
	}

	for ringID, ring := range rings {
		for pos, img := range ring {
			path := img.Path
			if path == "" {
				path = filepath.Join(s.Dir, fmt.Sprintf("input-%d.tif", img.ID))
				if err := pano.WriteTIFF(img.Pixels, path); err != nil {
					return errors.Wrapf(err, "save image %d", img.ID)
				}
			}
			orientation, err := json.Marshal(img.Orientation)
			if err != nil {
				return err
			}
			in := img.Intrinsics
			if _, err := tx.Exec(`INSERT INTO images (id, ring, position, path, orientation_json, focal, principal_x, principal_y, ref_width) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
				img.ID, ringID, pos, path, string(orientation), in.Focal, in.PrincipalX, in.PrincipalY, in.RefWidth); err != nil {
				return errors.Wrapf(err, "insert image %d", img.ID)
			}
		}
	}
	for id, g := range gains {
		if _, err := tx.Exec(`INSERT INTO gains (image_id, gain) VALUES (?, ?);`, id, g); err != nil {
			return errors.Wrapf(err, "insert gain %d", id)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.Logger.Infow("Saved stitcher input", "rings", len(rings), "gains", len(gains))
	return nil
}

func (s *DirStore)LoadRing(id int) (*pano.StitchingResult, error) {
	return s.loadArtifact(kindRing, id)
}

func (s *DirStore)SaveRing(id int, res *pano.StitchingResult) error {
	return s.saveArtifact(kindRing, id, res)
}

func (s *DirStore)LoadOptograph() (*pano.StitchingResult, error) {
	return s.loadArtifact(kindOptograph, 0)
}

func (s *DirStore)SaveOptograph(res *pano.StitchingResult) error {
	return s.saveArtifact(kindOptograph, 0, res)
}

func (s *DirStore)artifactPaths(kind string, id int) (string, string) {
	base := filepath.Join(s.Dir, fmt.Sprintf("%s-%d", kind, id))
	return base + ".tif", base + "-mask.png"
}

func (s *DirStore)saveArtifact(kind string, id int, res *pano.StitchingResult) error {
	if err := res.Validate(); err != nil {
		return err
	}
	imgPath, maskPath := s.artifactPaths(kind, id)
	if err := pano.WriteTIFF(res.Image, imgPath); err != nil {
		return errors.Wrapf(err, "save %s %d", kind, id)
	}
	if err := pano.WritePNG(res.Mask, maskPath); err != nil {
		return errors.Wrapf(err, "save %s %d mask", kind, id)
	}
	cores, err := json.Marshal(res.Cores)
	if err != nil {
		return err
	}

	// The row goes in last; it is what marks the artifact as present.
	_, err = s.DB.Exec(`INSERT OR REPLACE INTO artifacts (kind, id, image_path, mask_path, corner_x, corner_y, cores_json) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		kind, id, imgPath, maskPath, res.Corner.X, res.Corner.Y, string(cores))
	if err != nil {
		return errors.Wrapf(err, "index %s %d", kind, id)
	}
	s.Logger.Debugw("Saved artifact", "kind", kind, "id", id, "result", res)
	return nil
}

func (s *DirStore)loadArtifact(kind string, id int) (*pano.StitchingResult, error) {
	var imgPath, maskPath string
	var cores sql.NullString
	res := &pano.StitchingResult{}
	err := s.DB.QueryRow(`SELECT image_path, mask_path, corner_x, corner_y, cores_json FROM artifacts WHERE kind=? AND id=?;`, kind, id).
		Scan(&imgPath, &maskPath, &res.Corner.X, &res.Corner.Y, &cores)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "lookup %s %d", kind, id)
	}

	img, err := pano.ReadImage(imgPath)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s %d", kind, id)
	}
	mask, err := pano.ReadImage(maskPath)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s %d mask", kind, id)
	}
	res.Image = pano.ToRGBA(img)
	res.Mask = pano.ToGray(mask)

	if cores.Valid && cores.String != "" {
		if err := json.Unmarshal([]byte(cores.String), &res.Cores); err != nil {
			return nil, errors.Wrapf(err, "%s %d cores", kind, id)
		}
	}
	return res, res.Validate()
}
