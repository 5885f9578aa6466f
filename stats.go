package lateral

import (
	"fmt"
	"strings"
)

// StatElement is one labelled value of a statistics snapshot.
type StatElement struct {
	Name string
	Data any
}

func (e StatElement) String() string { return fmt.Sprintf("%s = %v", e.Name, e.Data) }

// Stats is a flat snapshot meant for dashboards. It is not wire-significant.
type Stats struct {
	TypeName string
	Elements []StatElement
}

func (s *Stats) add(name string, data any) {
	s.Elements = append(s.Elements, StatElement{Name: name, Data: data})
}

// Lookup returns the first element called name.
func (s Stats) Lookup(name string) (any, bool) {
	for _, e := range s.Elements {
		if e.Name == name {
			return e.Data, true
		}
	}
	return nil, false
}

func (s Stats) String() string {
	var b strings.Builder
	b.WriteString(s.TypeName)
	for _, e := range s.Elements {
		b.WriteString("\n  ")
		b.WriteString(e.String())
	}
	return b.String()
}
