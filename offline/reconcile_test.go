package offline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(recs []Record) []ID {
	out := make([]ID, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestReconcilePendingUpdateWins(t *testing.T) {
	snap := []Record{{ID: "7", Fields: Fields{"title": "t", "completed": false}}}
	upd := map[ID]Patch{"7": NewPatch(Fields{"completed": true})}

	out := Reconcile(snap, nil, upd, nil)
	require.Len(t, out, 1)
	assert.Equal(t, true, out[0].Fields["completed"])
	assert.Equal(t, "t", out[0].Fields["title"])
	assert.Equal(t, false, snap[0].Fields["completed"], "snapshot must not be modified")
}

func TestReconcileOmitsDeleted(t *testing.T) {
	snap := []Record{{ID: "8"}, {ID: "9"}}
	out := Reconcile(snap, nil, map[ID]Patch{"9": NewPatch(Fields{"x": 1})}, []ID{"9"})
	assert.Equal(t, []ID{"8"}, ids(out))
}

func TestReconcileAppendsCreatesWithoutDuplicates(t *testing.T) {
	local := NewLocalID()
	snap := []Record{{ID: "1"}, {ID: "1"}, {ID: "2"}}
	creates := []Record{
		{ID: local, Fields: Fields{"title": "new"}},
		{ID: "2", Fields: Fields{"title": "dup"}},
	}
	upd := map[ID]Patch{local: NewPatch(Fields{"title": "edited"})}

	out := Reconcile(snap, creates, upd, nil)
	assert.Equal(t, []ID{"1", "2", local}, ids(out))
	assert.Equal(t, "edited", out[2].Fields["title"])
	assert.Nil(t, out[1].Fields)
}

func TestReconcileEmpty(t *testing.T) {
	assert.Empty(t, Reconcile(nil, nil, nil, nil))
}
