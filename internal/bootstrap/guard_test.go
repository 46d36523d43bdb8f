package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuards(t *testing.T) {
	var order []string
	var g guards
	for _, name := range []string{"a", "b", "c"} {
		name := name
		g.push(name, func() { order = append(order, name) })
	}
	g.release()
	assert.Equal(t, []string{"c", "b", "a"}, order)

	g.release()
	assert.Len(t, order, 3, "released once")

	g.push("d", func() { order = append(order, "d") })
	owned := g.relieve()
	g.release()
	assert.Len(t, order, 3, "relieved guards are not released")
	owned.release()
	assert.Equal(t, []string{"c", "b", "a", "d"}, order)
}
