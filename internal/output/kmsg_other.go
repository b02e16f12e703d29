//go:build !linux

package output

// KMsg is a Linux-only tap; elsewhere it is permanently disabled.
type KMsg struct{}

func NewKMsg() *KMsg { return &KMsg{} }

func (*KMsg) Sync(Pusher) bool { return false }
func (*KMsg) Reset()           {}
func (*KMsg) Close()           {}
