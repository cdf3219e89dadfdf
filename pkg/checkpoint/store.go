// Package checkpoint persists the stitcher's inputs and intermediate
// products, so an interrupted run can pick up where it left off.
package checkpoint

import(
	"image"
	"sort"

	"github.com/abworrall/ringstitch/pkg/pano"
)

// A Store holds the capture (rings and gains), one mosaic per ring, and
// the final panorama (the "optograph"). Loads of things never saved
// return nil with no error.
type Store interface {
	LoadStitcherInput() ([]pano.Ring, map[int]float64, error)
	SaveStitcherInput(rings []pano.Ring, gains map[int]float64) error

	LoadRing(id int) (*pano.StitchingResult, error)
	SaveRing(id int, res *pano.StitchingResult) error

	LoadOptograph() (*pano.StitchingResult, error)
	SaveOptograph(res *pano.StitchingResult) error
}

// Clone deep copies a result, so the copy survives the original being
// released or edited.
func Clone(r *pano.StitchingResult) *pano.StitchingResult {
	if r == nil {
		return nil
	}
	out := &pano.StitchingResult{
		Corner: r.Corner,
		Cores:  append([]image.Rectangle(nil), r.Cores...),
	}
	if r.Image != nil {
		img := *r.Image
		img.Pix = append([]uint8(nil), r.Image.Pix...)
		out.Image = &img
	}
	if r.Mask != nil {
		mask := *r.Mask
		mask.Pix = append([]uint8(nil), r.Mask.Pix...)
		out.Mask = &mask
	}
	return out
}

// MemStore keeps everything in memory; for tests, and dry runs.
type MemStore struct {
	rings     []pano.Ring
	gains     map[int]float64
	mosaics   map[int]*pano.StitchingResult
	optograph *pano.StitchingResult
}

func NewMemStore() *MemStore {
	return &MemStore{
		gains:   map[int]float64{},
		mosaics: map[int]*pano.StitchingResult{},
	}
}

func (m *MemStore)LoadStitcherInput() ([]pano.Ring, map[int]float64, error) {
	rings := make([]pano.Ring, len(m.rings))
	for i, r := range m.rings {
		rings[i] = append(pano.Ring(nil), r...)
	}
	gains := make(map[int]float64, len(m.gains))
	for k, v := range m.gains {
		gains[k] = v
	}
	return rings, gains, nil
}

func (m *MemStore)SaveStitcherInput(rings []pano.Ring, gains map[int]float64) error {
	if err := checkInput(rings, gains); err != nil {
		return err
	}
	m.rings = make([]pano.Ring, len(rings))
	for i, r := range rings {
		m.rings[i] = append(pano.Ring(nil), r...)
	}
	m.gains = map[int]float64{}
	for k, v := range gains {
		m.gains[k] = v
	}
	return nil
}

func (m *MemStore)LoadRing(id int) (*pano.StitchingResult, error) {
	return Clone(m.mosaics[id]), nil
}

func (m *MemStore)SaveRing(id int, res *pano.StitchingResult) error {
	if err := res.Validate(); err != nil {
		return err
	}
	m.mosaics[id] = Clone(res)
	return nil
}

func (m *MemStore)LoadOptograph() (*pano.StitchingResult, error) {
	return Clone(m.optograph), nil
}

func (m *MemStore)SaveOptograph(res *pano.StitchingResult) error {
	if err := res.Validate(); err != nil {
		return err
	}
	m.optograph = Clone(res)
	return nil
}

// RingIDs lists the rings that have a saved mosaic.
func (m *MemStore)RingIDs() []int {
	ids := []int{}
	for id := range m.mosaics {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// checkInput rejects captures the stitcher could not make sense of.
func checkInput(rings []pano.Ring, gains map[int]float64) error {
	seen := map[int]bool{}
	for i, r := range rings {
		for _, img := range r {
			if img == nil {
				return pano.Invariantf("ring %d has a nil image", i)
			}
			if seen[img.ID] {
				return pano.Invariantf("image %d appears twice", img.ID)
			}
			seen[img.ID] = true
		}
	}
	for id, g := range gains {
		if !seen[id] {
			return pano.Invariantf("gain for unknown image %d", id)
		}
		if g <= 0 {
			return pano.Invariantf("gain %f for image %d", g, id)
		}
	}
	return nil
}
