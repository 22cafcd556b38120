package directory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectory_ObserveAndResolve(t *testing.T) {
	d := New(User{ID: "U1", DisplayName: "Alice", Username: "alice"})

	assert.True(t, d.Known("U1"))
	assert.False(t, d.Known("U2"))

	name, ok := d.Resolve("U1")
	assert.True(t, ok)
	assert.Equal(t, "Alice", name)

	_, ok = d.Resolve("U2")
	assert.False(t, ok)
	assert.Equal(t, "U2", d.DisplayName("U2"))
}

func TestDirectory_ObserveKeepsOldFields(t *testing.T) {
	d := New(User{ID: "U1", DisplayName: "Alice", Username: "alice"})

	d.Observe(User{ID: "U1"})
	assert.Equal(t, "Alice", d.DisplayName("U1"))

	id, ok := d.LookupUsername("alice")
	assert.True(t, ok)
	assert.Equal(t, "U1", id)
}

func TestDirectory_UsernameChange(t *testing.T) {
	d := New(User{ID: "U1", Username: "alice"})
	d.Observe(User{ID: "U1", Username: "alice_b"})

	_, ok := d.LookupUsername("alice")
	assert.False(t, ok)

	id, ok := d.LookupUsername("@Alice_B")
	assert.True(t, ok)
	assert.Equal(t, "U1", id)

	// With no display name the username is shown.
	assert.Equal(t, "alice_b", d.DisplayName("U1"))
}

func TestDirectory_IgnoresEmptyID(t *testing.T) {
	d := New()
	d.Observe(User{DisplayName: "ghost"})
	assert.False(t, d.Known(""))
}

func TestDirectory_ConcurrentObserve(t *testing.T) {
	d := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("U%d", i%10)
			d.Observe(User{ID: id, DisplayName: "user " + id})
			d.Known(id)
			d.Resolve(id)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		assert.True(t, d.Known(fmt.Sprintf("U%d", i)))
	}
}

func TestDirectory_Lookup(t *testing.T) {
	d := New(User{ID: "U1", DisplayName: "Alice", Username: "alice"})

	u, ok := d.Lookup("U1")
	assert.True(t, ok)
	assert.Equal(t, User{ID: "U1", DisplayName: "Alice", Username: "alice"}, u)

	_, ok = d.Lookup("U9")
	assert.False(t, ok)
}
