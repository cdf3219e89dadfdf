package checkpoint

import(
	"github.com/pkg/errors"

	"github.com/abworrall/ringstitch/pkg/pano"
)

// A Cache is one memoised artifact. Load returns nil, nil if nothing is
// there yet.
type Cache interface {
	Load() (*pano.StitchingResult, error)
	Save(*pano.StitchingResult) error
}

type cacheFuncs struct {
	load func() (*pano.StitchingResult, error)
	save func(*pano.StitchingResult) error
}

func (c cacheFuncs)Load() (*pano.StitchingResult, error) { return c.load() }
func (c cacheFuncs)Save(r *pano.StitchingResult) error    { return c.save(r) }

// RingCache memoises the mosaic of one ring.
func RingCache(s Store, ringID int) Cache {
	return cacheFuncs{
		load: func() (*pano.StitchingResult, error) { return s.LoadRing(ringID) },
		save: func(r *pano.StitchingResult) error { return s.SaveRing(ringID, r) },
	}
}

// OptographCache memoises the final panorama.
func OptographCache(s Store) Cache {
	return cacheFuncs{load: s.LoadOptograph, save: s.SaveOptograph}
}

// GetOrCompute returns the cached artifact if there is one; otherwise it
// builds it, saves it, and returns it. computed says which happened.
func GetOrCompute(c Cache, build func() (*pano.StitchingResult, error)) (*pano.StitchingResult, bool, error) {
	if res, err := c.Load(); err != nil {
		return nil, false, errors.Wrap(err, "cache load")
	} else if res != nil {
		return res, false, nil
	}

	res, err := build()
	if err != nil {
		return nil, false, err
	}
	if err := c.Save(res); err != nil {
		return nil, true, errors.Wrap(err, "cache save")
	}
	return res, true, nil
}
