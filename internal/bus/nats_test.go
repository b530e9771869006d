package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectForUser(t *testing.T) {
	assert.Equal(t, "emberchat.user.alice", SubjectForUser("alice"))
	assert.Equal(t, "emberchat.user.u-42", SubjectForUser("u-42"))
}
