package mesh

// StreamHandle identifies a media stream surfaced to the display layer.
// The local participant's handle is its media.Stream; remote handles come
// from the transport engine.
type StreamHandle interface {
	ID() string
}

// Participant is one entry in the aggregated room view. Exactly one entry
// per room has IsLocal set; the list always places it first.
type Participant struct {
	ID              string
	Name            string
	IsLocal         bool
	Stream          StreamHandle
	IsMuted         bool
	IsVideoOff      bool
	IsScreenSharing bool
}

// NoticeLevel grades out-of-band notifications for the display layer.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarn
	NoticeError
)

// Notice is an out-of-band notification (toast material), separate from the
// aggregated participant list.
type Notice struct {
	Level   NoticeLevel
	Message string
}
