package app

type UpdateKind int

const (
	UpdateOther UpdateKind = iota
	UpdateText
	UpdatePhoto
	UpdateStart
	UpdateQuota
	UpdateHelp
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateText:
		return "text"
	case UpdatePhoto:
		return "photo"
	case UpdateStart:
		return "start"
	case UpdateQuota:
		return "quota"
	case UpdateHelp:
		return "help"
	default:
		return "other"
	}
}

// PhotoVariant is one size of an attached photo. Platforms list variants
// from smallest to largest.
type PhotoVariant struct {
	FileID string
	Width  int
	Height int
}

// Update is an inbound event after classification. Only the fields that
// belong to Kind are set.
type Update struct {
	Kind    UpdateKind
	ChatID  int64
	UserID  int64
	Text    string
	Caption string
	Photos  []PhotoVariant
}

// Largest returns the last photo variant.
func (u Update) Largest() (PhotoVariant, bool) {
	if len(u.Photos) == 0 {
		return PhotoVariant{}, false
	}
	return u.Photos[len(u.Photos)-1], true
}
