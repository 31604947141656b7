package sgf

// GameTree представляет одно дерево в SGF (узел + варианты)
type GameTree struct {
	Nodes    []Node      // main line
	Children []*GameTree // variations
}

// Node holds the properties of one SGF node, e.g. B[pd] or C[...].
// A property may repeat, as in AB[aa][bb].
type Node struct {
	Properties map[string][]string
}

type SGF struct {
	Root *GameTree
}

// Point encodes board coordinates the SGF way: column then row, both as
// letters from 'a', row 0 at the top. Unlike the protocol notation, 'i' is
// a valid letter here.
func Point(x, y int) string {
	return string([]byte{byte('a' + x), byte('a' + y)})
}

// Escape protects the characters SGF treats specially inside a value.
func Escape(value string) string {
	out := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, value[i])
	}
	return string(out)
}
