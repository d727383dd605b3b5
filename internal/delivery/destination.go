package delivery

import "strconv"

type Kind int

const (
	KindTab Kind = iota + 1
	KindPopup
)

// Destination identifies the UI surface a translation is delivered to: a
// page tab, or the extension popup which has no tab id. It is comparable
// and used as a map key.
type Destination struct {
	Kind  Kind
	TabID int
}

func Tab(id int) Destination {
	return Destination{Kind: KindTab, TabID: id}
}

func Popup() Destination {
	return Destination{Kind: KindPopup}
}

func (d Destination) IsPopup() bool {
	return d.Kind == KindPopup
}

func (d Destination) String() string {
	switch d.Kind {
	case KindTab:
		return "tab:" + strconv.Itoa(d.TabID)
	case KindPopup:
		return "popup"
	default:
		return "unknown"
	}
}
