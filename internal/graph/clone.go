package graph

import "github.com/coveborn/periscope/internal/models"

// cloneEntity makes a pass-private copy of an entity so staged mutations
// never alias committed state. Slices and maps are duplicated; pointer
// fields hold scalars shared copies cannot mutate in place.
func cloneEntity(e models.Entity) models.Entity {
	switch v := e.(type) {
	case *models.Server:
		c := *v
		c.Home = cloneHome(v.Home)
		c.Unsupported = cloneSet(v.Unsupported)
		if v.LicenseValid != nil {
			valid := *v.LicenseValid
			c.LicenseValid = &valid
		}
		if v.UserAdmin != nil {
			admin := *v.UserAdmin
			c.UserAdmin = &admin
		}
		return &c
	case *models.Artist:
		c := *v
		c.AlbumIDs = cloneIDs(v.AlbumIDs)
		return &c
	case *models.Album:
		c := *v
		c.TrackIDs = cloneIDs(v.TrackIDs)
		c.Year = cloneInt(v.Year)
		return &c
	case *models.Track:
		c := *v
		c.Duration = cloneInt(v.Duration)
		c.BitRate = cloneInt(v.BitRate)
		c.TrackNumber = cloneInt(v.TrackNumber)
		c.Year = cloneInt(v.Year)
		c.Rating = cloneInt(v.Rating)
		c.PlaylistIndex = cloneInt(v.PlaylistIndex)
		if v.Size != nil {
			size := *v.Size
			c.Size = &size
		}
		return &c
	case *models.Cover:
		c := *v
		return &c
	case *models.Playlist:
		c := *v
		c.TrackIDs = cloneIDs(v.TrackIDs)
		if v.Public != nil {
			pub := *v.Public
			c.Public = &pub
		}
		return &c
	case *models.Podcast:
		c := *v
		c.EpisodeIDs = cloneIDs(v.EpisodeIDs)
		return &c
	case *models.Episode:
		c := *v
		c.Duration = cloneInt(v.Duration)
		return &c
	case *models.NowPlaying:
		c := *v
		c.MinutesAgo = cloneInt(v.MinutesAgo)
		return &c
	case *models.Index:
		c := *v
		c.ArtistIDs = cloneIDs(v.ArtistIDs)
		return &c
	default:
		// Unknown kinds cannot be staged safely; callers only store the
		// variants above.
		panic("graph: unknown entity type")
	}
}

func cloneIDs(ids []string) []string {
	if ids == nil {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneHome(home map[models.AlbumListType][]string) map[models.AlbumListType][]string {
	if home == nil {
		return nil
	}
	out := make(map[models.AlbumListType][]string, len(home))
	for k, v := range home {
		out[k] = cloneIDs(v)
	}
	return out
}

func cloneSet(set map[string]bool) map[string]bool {
	if set == nil {
		return nil
	}
	out := make(map[string]bool, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out
}
