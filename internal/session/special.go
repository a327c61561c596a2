package session

// SpecialDoc describes a virtual read-only document, such as a start page.
type SpecialDoc struct {
	Content string
	Mode    string
}

// DefaultStartDocument is the special document shown first after restore.
const DefaultStartDocument = "special:start"

// RegisterSpecial makes name resolvable by Go. The request must match name
// exactly. Registering a name again replaces its descriptor.
func (m *Manager) RegisterSpecial(name string, doc SpecialDoc) {
	m.loop.Post(func() {
		m.specials[name] = doc
	})
}

func (m *Manager) newSpecial(name string, doc SpecialDoc) *Session {
	s := newSession(name, m.engine.CreateBuffer(name, doc.Content), true)
	s.special = true
	if doc.Mode != "" {
		s.buf.SetMode(doc.Mode)
	}
	return s
}
