package about

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Paths(t *testing.T) {
	const author = "@suzy.bjzee56v2hd6mv5r5ar3xqg3x3oyugf7fejpxnvhumyoi54ia4ppa"

	assert.Equal(t, "/about/~"+author+"/status.txt", StatusPath(author))
	assert.Equal(t, "/about/~"+author+"/last-online.json", LastOnlinePath(author))
	assert.Equal(t, "/about/~"+author+"/displayName.txt", DisplayNamePath(author))

	assert.True(t, IsStatusPath(StatusPath(author)))
	assert.False(t, IsStatusPath(LastOnlinePath(author)))
	assert.False(t, IsStatusPath("/wiki/status.txt"))

	a, ok := AuthorOf(StatusPath(author))
	assert.True(t, ok)
	assert.Equal(t, author, a)

	_, ok = AuthorOf("/wiki/page.md")
	assert.False(t, ok)
}
