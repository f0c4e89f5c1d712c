package mesh

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/soulmesh/swarmcore/internal/hashdb"
	"github.com/soulmesh/swarmcore/internal/types"
)

// testReqKeyClient drives the requester side of a REQ_KEY exchange by hand,
// since Session only exposes the REQ_DELTA flow via PullFrom.
type testReqKeyClient struct {
	t    *testing.T
	conn Conn
	r    *bufio.Reader
}

func newTestReqKeyClient(t *testing.T, conn Conn, clientID string, now time.Time) *testReqKeyClient {
	t.Helper()
	if err := conn.SetDeadline(now.Add(5 * time.Second)); err != nil {
		t.Fatalf("SetDeadline: %v", err)
	}
	if err := writeFrame(conn, TypeHello, encodeHello(Hello{ClientID: clientID, ProtocolVersion: ProtocolVersion})); err != nil {
		t.Fatalf("write HELLO: %v", err)
	}
	r := bufio.NewReader(conn)
	msgType, _, err := readFrame(r)
	if err != nil || msgType != TypeHello {
		t.Fatalf("expected peer HELLO, got type=%v err=%v", msgType, err)
	}
	return &testReqKeyClient{t: t, conn: conn, r: r}
}

func (c *testReqKeyClient) reqKey(key string) (RespKey, error) {
	if err := writeFrame(c.conn, TypeReqKey, encodeReqKey(ReqKey{Key: key})); err != nil {
		return RespKey{}, err
	}
	msgType, body, err := readFrame(c.r)
	if err != nil {
		return RespKey{}, err
	}
	if msgType != TypeRespKey {
		c.t.Fatalf("expected RESP_KEY, got type=%v", msgType)
	}
	return decodeRespKey(body)
}

func openMeshStore(t *testing.T) *hashdb.Store {
	t.Helper()
	s, err := hashdb.Open(filepath.Join(t.TempDir(), "hash.db"))
	if err != nil {
		t.Fatalf("hashdb.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionPullFromMergesServerEntries(t *testing.T) {
	serverStore := openMeshStore(t)
	clientStore := openMeshStore(t)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := serverStore.StoreFingerprint("song-a:100", types.KindSha256Prefix, []byte{1, 2, 3}, 100, 0, types.SourceLocalScan, now); err != nil {
		t.Fatalf("seed entry 1: %v", err)
	}
	if _, err := serverStore.StoreFingerprint("song-b:200", types.KindSha256Prefix, []byte{4, 5, 6}, 200, 0, types.SourceLocalScan, now); err != nil {
		t.Fatalf("seed entry 2: %v", err)
	}

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	serverSession := NewSession(serverStore, "server-node", 500, 10)
	clientSession := NewSession(clientStore, "client-node", 500, 10)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- serverSession.ServeOne(context.Background(), serverConn, now)
	}()

	merged, conflicts, err := clientSession.PullFrom(context.Background(), clientConn, "server-node", now)
	if err != nil {
		t.Fatalf("PullFrom: %v", err)
	}
	if merged != 2 {
		t.Fatalf("expected 2 merged entries, got %d (conflicts=%d)", merged, conflicts)
	}

	if err := <-serverDone; err != nil {
		t.Fatalf("ServeOne: %v", err)
	}

	entry, ok, err := clientStore.LookupFingerprint("song-a:100")
	if err != nil || !ok {
		t.Fatalf("expected song-a:100 merged into client store, ok=%v err=%v", ok, err)
	}
	if entry.LastSource != types.SourcePeerGossip {
		t.Fatalf("expected source=peer-gossip, got %v", entry.LastSource)
	}

	seq, err := clientStore.PeerLastSeqSeen("server-node")
	if err != nil {
		t.Fatalf("PeerLastSeqSeen: %v", err)
	}
	if seq == 0 {
		t.Fatal("expected watermark to advance past 0")
	}
}

func TestSessionPullFromNoOpWhenUpToDate(t *testing.T) {
	serverStore := openMeshStore(t)
	clientStore := openMeshStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	serverSession := NewSession(serverStore, "server-node", 500, 10)
	clientSession := NewSession(clientStore, "client-node", 500, 10)

	serverDone := make(chan error, 1)
	go func() {
		err := serverSession.ServeOne(context.Background(), serverConn, now)
		serverDone <- err
	}()

	merged, conflicts, err := clientSession.PullFrom(context.Background(), clientConn, "server-node", now)
	if err != nil {
		t.Fatalf("PullFrom: %v", err)
	}
	if merged != 0 || conflicts != 0 {
		t.Fatalf("expected no-op sync, got merged=%d conflicts=%d", merged, conflicts)
	}

	// server never got a second frame since client short-circuited after
	// HELLO; close the conn so ServeOne's blocked read unblocks with EOF.
	_ = clientConn.Close()
	<-serverDone
}

func TestSessionServeOneAnswersReqKey(t *testing.T) {
	serverStore := openMeshStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := serverStore.StoreFingerprint("song-c:300", types.KindSha256Prefix, []byte{7, 8, 9}, 300, 0, types.SourceLocalScan, now); err != nil {
		t.Fatalf("seed: %v", err)
	}

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	serverSession := NewSession(serverStore, "server-node", 500, 10)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- serverSession.ServeOne(context.Background(), serverConn, now)
	}()

	r := newTestReqKeyClient(t, clientConn, "client-node", now)
	resp, err := r.reqKey("song-c:300")
	if err != nil {
		t.Fatalf("reqKey: %v", err)
	}
	if !resp.Found || resp.Size != 300 {
		t.Fatalf("unexpected RespKey: %+v", resp)
	}

	if err := <-serverDone; err != nil {
		t.Fatalf("ServeOne: %v", err)
	}
}
