package reconcile

import (
	"testing"
	"time"

	"github.com/openmined/filesync/internal/syncmeta"
	"github.com/stretchr/testify/assert"
)

func at(sec int) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}

func live(sec int) *syncmeta.FileRecord {
	return &syncmeta.FileRecord{RelativePath: "bar.txt", LastModified: at(sec), Size: 3}
}

func gone(sec int) *syncmeta.FileRecord {
	return syncmeta.Tombstone("bar.txt", at(sec))
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name   string
		mine   *syncmeta.FileRecord
		theirs *syncmeta.FileRecord
		want   Action
		reason Reason
	}{
		{"unknown live file is fetched", nil, live(100), Fetch, ReasonNew},
		{"newer peer copy is fetched", live(100), live(200), Fetch, ReasonNewer},
		{"older peer copy is ignored", live(200), live(100), Noop, ReasonUpToDate},
		{"tie keeps local copy", live(400), live(400), Noop, ReasonUpToDate},
		{"peer edit after my deletion resurrects", gone(200), live(300), Fetch, ReasonResurrected},
		{"peer edit before my deletion is ignored", gone(300), live(200), Noop, ReasonDeletionNewer},
		{"peer edit at my deletion time is ignored", gone(300), live(300), Noop, ReasonDeletionNewer},
		{"peer deletion of unknown path", nil, gone(100), DeleteLocal, ReasonPeerDeleted},
		{"peer deletion after my edit deletes", live(200), gone(300), DeleteLocal, ReasonPeerDeleted},
		{"peer deletion at my edit time deletes", live(300), gone(300), DeleteLocal, ReasonPeerDeleted},
		{"my edit after peer deletion wins", live(300), gone(200), Noop, ReasonLocalNewer},
		{"my newer tombstone absorbs peer deletion", gone(300), gone(200), Noop, ReasonAlreadyGone},
		{"equal tombstones are a noop", gone(300), gone(300), Noop, ReasonAlreadyGone},
		{"newer peer tombstone replaces mine", gone(200), gone(300), DeleteLocal, ReasonPeerDeleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, role := range []Role{RoleClient, RoleServer} {
				d := Decide(tt.mine, tt.theirs, role)
				assert.Equal(t, tt.want, d.Action, "role %s", role)
				assert.Equal(t, tt.reason, d.Reason, "role %s", role)
				assert.Equal(t, role, d.Role)
				assert.Equal(t, "bar.txt", d.Path)
			}
		})
	}
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "fetch", Fetch.String())
	assert.Equal(t, "delete", DeleteLocal.String())
	assert.Equal(t, "noop", Noop.String())
	assert.Equal(t, "server", RoleServer.String())
}
