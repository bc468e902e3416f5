package server

import "testing"

func TestPrivateKeyIsOrderIndependent(t *testing.T) {
	left := privateKey("conn-a", "conn-b")
	right := privateKey("conn-b", "conn-a")
	if left != right {
		t.Fatalf("privateKey order dependent: %q vs %q", left, right)
	}
	if left != "conn-a"+privateKeySeparator+"conn-b" {
		t.Fatalf("privateKey = %q, want sorted pair", left)
	}
}

func TestGroupRouterJoinIsIdempotent(t *testing.T) {
	router := newGroupRouter()
	peer := testPeer()

	router.join("general", "conn-a", peer)
	router.join("general", "conn-a", peer)

	if got := len(router.members("general")); got != 1 {
		t.Fatalf("members = %d, want 1", got)
	}
}

func TestGroupRouterMembersExceptSkipsSender(t *testing.T) {
	router := newGroupRouter()
	router.join("general", "conn-a", testPeer())
	router.join("general", "conn-b", testPeer())
	router.join("general", "conn-c", testPeer())

	if got := len(router.membersExcept("general", "conn-b")); got != 2 {
		t.Fatalf("membersExcept = %d, want 2", got)
	}
	if got := len(router.members("general")); got != 3 {
		t.Fatalf("members = %d, want 3", got)
	}
}

func TestGroupRouterLeaveAllDropsEveryMembership(t *testing.T) {
	router := newGroupRouter()
	peer := testPeer()
	router.join("general", "conn-a", peer)
	router.join("general", "conn-b", testPeer())
	router.join(privateKey("conn-a", "conn-b"), "conn-a", peer)

	router.leaveAll("conn-a")

	if got := len(router.members("general")); got != 1 {
		t.Fatalf("general members after leave = %d, want 1", got)
	}
	if got := len(router.members(privateKey("conn-a", "conn-b"))); got != 0 {
		t.Fatalf("pairing members after leave = %d, want 0", got)
	}
}

func TestGroupRouterUnknownGroupIsEmpty(t *testing.T) {
	router := newGroupRouter()

	if got := len(router.members("nope")); got != 0 {
		t.Fatalf("members of unknown group = %d, want 0", got)
	}
	if got := len(router.membersExcept("nope", "conn-a")); got != 0 {
		t.Fatalf("membersExcept of unknown group = %d, want 0", got)
	}
}
