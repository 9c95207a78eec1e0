package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/glinharesb/platform-go/internal/audit"
	"github.com/glinharesb/platform-go/internal/crypto"
	"github.com/glinharesb/platform-go/internal/hsm"
	"github.com/glinharesb/platform-go/internal/keystore"
	"github.com/glinharesb/platform-go/internal/signing"
	"github.com/glinharesb/platform-go/internal/storage"
	"github.com/glinharesb/platform-go/internal/wire"
)

type testEnv struct {
	hsm     *hsm.SoftwareHSM
	audit   *audit.Logger
	blobs   *storage.MemoryBackend
	keysSrv *KeyManagementServer

	se    *wire.SecureElementClient
	keys  *wire.KeyManagementClient
	sign  *wire.SigningClient
	log   *wire.AuditClient
	store *wire.StorageClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	h := hsm.NewSoftwareHSM()
	logger := audit.NewLogger(256, nil)
	blobs := storage.NewMemoryBackend()
	sealer, err := crypto.NewSealer(bytes.Repeat([]byte{1}, 32))
	if err != nil {
		t.Fatal(err)
	}
	mgr := keystore.NewManager(keystore.NewMemoryStore(),
		keystore.WithBlobs(blobs, sealer), keystore.WithHSM(h), keystore.WithAudit(logger))
	signer := signing.NewService(signing.WithHSM(h), signing.WithStorage(blobs, sealer), signing.WithAudit(logger))

	env := &testEnv{hsm: h, audit: logger, blobs: blobs, keysSrv: NewKeyManagementServer(mgr)}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	wire.RegisterSecureElementServer(srv, NewSecureElementServer(h, logger))
	wire.RegisterKeyManagementServer(srv, env.keysSrv)
	wire.RegisterSigningServer(srv, NewSigningServer(mgr, signer))
	wire.RegisterAuditServer(srv, NewAuditServer(logger))
	wire.RegisterStorageServer(srv, NewStorageServer(blobs, sealer, logger))
	go srv.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
		logger.Close()
	})

	env.se = wire.NewSecureElementClient(conn)
	env.keys = wire.NewKeyManagementClient(conn)
	env.sign = wire.NewSigningClient(conn)
	env.log = wire.NewAuditClient(conn)
	env.store = wire.NewStorageClient(conn)
	return env
}

func wantCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	if got := status.Code(err); got != code {
		t.Fatalf("expected %v, got %v (%v)", code, got, err)
	}
}

func TestSecureElementRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, err := env.se.GenerateKey(ctx, wrapperspb.String("SECP256K1"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	info, err := wire.KeyInfoFromStruct(resp)
	if err != nil {
		t.Fatal(err)
	}

	digest := sha256.Sum256([]byte("slot sign"))
	sig, err := env.se.Sign(ctx, wire.SlotSignRequest(info.Slot, digest[:]))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	r, s, _ := signing.ParseNative(sig.GetValue())
	if !crypto.VerifyDigest(info.Curve, info.PublicKey, digest[:], r, s) {
		t.Fatal("slot signature did not verify")
	}

	rnd, err := env.se.Random(ctx, wrapperspb.UInt32(48))
	if err != nil || len(rnd.GetValue()) != 48 {
		t.Fatalf("random: %d bytes, %v", len(rnd.GetValue()), err)
	}

	if _, err := env.se.DeleteKey(ctx, wrapperspb.String(info.Slot)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = env.se.KeyInfo(ctx, wrapperspb.String(info.Slot))
	wantCode(t, err, codes.NotFound)
}

func TestSecureElementErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.se.GenerateKey(ctx, wrapperspb.String("ED25519"))
	wantCode(t, err, codes.Unimplemented)

	_, err = env.se.Random(ctx, wrapperspb.UInt32(MaxRandomBytes+1))
	wantCode(t, err, codes.InvalidArgument)

	slot, _ := env.hsm.GenerateKey(crypto.CurveP256)
	_, err = env.se.Sign(ctx, wire.SlotSignRequest(slot, []byte{1, 2, 3}))
	wantCode(t, err, codes.InvalidArgument)

	if _, err := env.se.LockSlot(ctx, wrapperspb.String(slot)); err != nil {
		t.Fatalf("lock: %v", err)
	}
	digest := sha256.Sum256(nil)
	_, err = env.se.Sign(ctx, wire.SlotSignRequest(slot, digest[:]))
	wantCode(t, err, codes.FailedPrecondition)
	if _, err := env.se.UnlockSlot(ctx, wrapperspb.String(slot)); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := env.se.Sign(ctx, wire.SlotSignRequest(slot, digest[:])); err != nil {
		t.Fatalf("sign after unlock: %v", err)
	}
	_, err = env.se.LockSlot(ctx, wrapperspb.String("missing"))
	wantCode(t, err, codes.NotFound)

	plain := NewSecureElementServer(struct{ hsm.Provider }{env.hsm}, nil)
	_, err = plain.LockSlot(ctx, wrapperspb.String(slot))
	wantCode(t, err, codes.Unimplemented)

	_, err = env.se.Sign(ctx, wire.SlotSignRequest("", digest[:]))
	wantCode(t, err, codes.InvalidArgument)
}

func TestKeyLifecycleAndSigning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, loc := range []keystore.Location{keystore.LocationStored, keystore.LocationSlot} {
		resp, err := env.keys.GenerateKey(ctx, wire.GenerateKeyRequest(crypto.CurveSecp256k1, loc, map[string]string{"app": "wallet"}))
		if err != nil {
			t.Fatalf("%s generate: %v", loc, err)
		}
		entry, err := wire.KeyEntryFromStruct(resp)
		if err != nil {
			t.Fatal(err)
		}
		if entry.Location != loc || entry.Labels["app"] != "wallet" {
			t.Fatalf("unexpected entry: %+v", entry)
		}

		digest := sha256.Sum256([]byte("tx"))
		sigResp, err := env.sign.Sign(ctx, wire.KeySignRequest(entry.ID, digest[:]))
		if err != nil {
			t.Fatalf("%s sign: %v", loc, err)
		}
		res, err := wire.SignatureFromStruct(sigResp)
		if err != nil {
			t.Fatal(err)
		}
		if !signing.Verify(entry.Curve, entry.PublicKey, digest[:], res) {
			t.Fatalf("%s: signature did not verify", loc)
		}
		_, hasPrefix := res.Prefix()
		if hasPrefix != (loc == keystore.LocationStored) {
			t.Fatalf("%s: unexpected prefix presence %v", loc, hasPrefix)
		}
	}

	list, err := env.keys.ListKeys(ctx, wrapperspb.String("ACTIVE"))
	if err != nil || len(list.GetValues()) != 2 {
		t.Fatalf("list: %d keys, %v", len(list.GetValues()), err)
	}
}

func TestRotateAndDeactivate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, _ := env.keys.GenerateKey(ctx, wire.GenerateKeyRequest(crypto.CurveP256, keystore.LocationStored, nil))
	orig, _ := wire.KeyEntryFromStruct(resp)

	rot, err := env.keys.RotateKey(ctx, wrapperspb.String(orig.ID))
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	newEntry, _ := wire.KeyEntryFromStruct(rot.GetFields()["new"].GetStructValue())
	oldEntry, _ := wire.KeyEntryFromStruct(rot.GetFields()["old"].GetStructValue())
	if oldEntry.Status != keystore.StatusRotated || newEntry.Status != keystore.StatusActive {
		t.Fatalf("unexpected statuses: old=%s new=%s", oldEntry.Status, newEntry.Status)
	}

	digest := sha256.Sum256([]byte("m"))
	_, err = env.sign.Sign(ctx, wire.KeySignRequest(orig.ID, digest[:]))
	wantCode(t, err, codes.FailedPrecondition)

	if _, err := env.keys.DeactivateKey(ctx, wrapperspb.String(newEntry.ID)); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err = env.sign.Sign(ctx, wire.KeySignRequest(newEntry.ID, digest[:]))
	wantCode(t, err, codes.FailedPrecondition)

	_, err = env.keys.GetKey(ctx, wrapperspb.String("missing"))
	wantCode(t, err, codes.NotFound)

	_, err = env.keys.ListKeys(ctx, wrapperspb.String("BOGUS"))
	wantCode(t, err, codes.InvalidArgument)
}

func TestBatchSign(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp, _ := env.keys.GenerateKey(ctx, wire.GenerateKeyRequest(crypto.CurveSecp256k1, keystore.LocationStored, nil))
	entry, _ := wire.KeyEntryFromStruct(resp)

	good := sha256.Sum256([]byte("one"))
	digests := [][]byte{good[:], []byte("too short"), good[:]}

	list, err := env.sign.BatchSign(ctx, wire.BatchSignRequest(entry.ID, digests))
	if err != nil {
		t.Fatalf("batch sign: %v", err)
	}
	values := list.GetValues()
	if len(values) != 3 {
		t.Fatalf("expected 3 results, got %d", len(values))
	}
	for i, v := range values {
		s := v.GetStructValue()
		_, failed := s.GetFields()["error"]
		if failed != (i == 1) {
			t.Fatalf("result %d: unexpected failure state %v", i, failed)
		}
		if failed {
			continue
		}
		res, err := wire.SignatureFromStruct(s)
		if err != nil || !signing.Verify(entry.Curve, entry.PublicKey, good[:], res) {
			t.Fatalf("result %d did not verify: %v", i, err)
		}
	}

	big := make([][]byte, MaxBatchSize+1)
	_, err = env.sign.BatchSign(ctx, wire.BatchSignRequest(entry.ID, big))
	wantCode(t, err, codes.InvalidArgument)
}

func TestWatchKeyEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := env.keys.WatchKeyEvents(ctx, &emptypb.Empty{})
	if err != nil {
		t.Fatal(err)
	}
	for env.keysSrv.watchers() == 0 {
		if ctx.Err() != nil {
			t.Fatal("watch stream never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := env.keys.GenerateKey(ctx, wire.GenerateKeyRequest(crypto.CurveP256, keystore.LocationSlot, nil))
	if err != nil {
		t.Fatal(err)
	}
	created, _ := wire.KeyEntryFromStruct(resp)

	event, err := stream.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if event.GetFields()["type"].GetStringValue() != wire.KeyEventCreated {
		t.Fatalf("unexpected event: %v", event)
	}
	key, _ := wire.KeyEntryFromStruct(event.GetFields()["key"].GetStructValue())
	if key.ID != created.ID {
		t.Fatalf("event for %s, expected %s", key.ID, created.ID)
	}
}

func TestAuditQueryAndStream(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := env.log.StreamAudit(ctx, wire.AuditFilterToStruct(audit.Filter{Operation: "Random", Limit: 1}))
	if err != nil {
		t.Fatal(err)
	}

	// the subscription is registered asynchronously; keep generating
	// entries until one arrives on the stream
	received := make(chan string, 1)
	streamEnd := make(chan error, 1)
	go func() {
		s, err := stream.Recv()
		if err != nil {
			return
		}
		received <- s.GetFields()["operation"].GetStringValue()
		_, err = stream.Recv()
		streamEnd <- err
	}()

	var op string
	for op == "" {
		env.se.GenerateKey(ctx, wrapperspb.String("P256"))
		env.se.Random(ctx, wrapperspb.UInt32(1))
		select {
		case op = <-received:
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("no audit entry streamed")
		}
	}
	if op != "Random" {
		t.Fatalf("unexpected streamed operation %q", op)
	}
	select {
	case err := <-streamEnd:
		if err != io.EOF {
			t.Fatalf("expected stream to end after limit, got %v", err)
		}
	case <-ctx.Done():
		t.Fatal("stream did not end after limit")
	}

	// entries are stored asynchronously
	deadline := time.Now().Add(2 * time.Second)
	for {
		list, err := env.log.QueryAudit(ctx, wire.AuditFilterToStruct(audit.Filter{Operation: "Random", Limit: 1}))
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(list.GetValues()) == 1 {
			e, err := wire.AuditEntryFromStruct(list.GetValues()[0].GetStructValue())
			if err != nil || e.Status != audit.StatusOK || e.PeerAddress == "" {
				t.Fatalf("unexpected entry %+v, %v", e, err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("audit entry never stored")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStorageService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.store.Write(ctx, wire.WriteRequest("profile", []byte("sealed at rest"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := env.blobs.Read("profile", -1)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, []byte("sealed at rest")) {
		t.Fatal("blob stored in plaintext")
	}

	size, err := env.store.Size(ctx, wrapperspb.String("profile"))
	if err != nil || size.GetValue() != int64(len("sealed at rest")) {
		t.Fatalf("size = %d, %v", size.GetValue(), err)
	}
	got, err := env.store.Read(ctx, wire.ReadRequest("profile", 6))
	if err != nil || string(got.GetValue()) != "sealed" {
		t.Fatalf("read = %q, %v", got.GetValue(), err)
	}

	_, err = env.store.Read(ctx, wire.ReadRequest("missing", -1))
	wantCode(t, err, codes.NotFound)
	_, err = env.store.Write(ctx, wire.WriteRequest("", []byte("x")))
	wantCode(t, err, codes.InvalidArgument)
	_, err = env.store.Read(ctx, wire.ReadRequest(keystore.BlobName("any"), -1))
	wantCode(t, err, codes.PermissionDenied)
	_, err = env.store.Remove(ctx, wrapperspb.String(keystore.DefaultIndexName))
	wantCode(t, err, codes.PermissionDenied)

	if err := env.blobs.Write("forged", bytes.Repeat([]byte{0}, 64)); err != nil {
		t.Fatal(err)
	}
	_, err = env.store.Read(ctx, wire.ReadRequest("forged", -1))
	wantCode(t, err, codes.DataLoss)

	if _, err := env.store.Remove(ctx, wrapperspb.String("profile")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, err = env.store.Size(ctx, wrapperspb.String("profile"))
	wantCode(t, err, codes.NotFound)
}

func TestStorageServiceRejectsTraversal(t *testing.T) {
	backend, err := storage.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	protected := []string{keystore.BlobName("abc"), keystore.DefaultIndexName}
	for _, name := range protected {
		if err := backend.Write(name, []byte("key material")); err != nil {
			t.Fatal(err)
		}
	}
	srv := NewStorageServer(backend, nil, nil)
	ctx := context.Background()

	names := []string{
		"x/../" + keystore.BlobName("abc"),
		"./" + keystore.DefaultIndexName,
		"keys",
		"keystore/./index.json",
		"../outside",
		"a/../../keys/abc.key",
	}
	for _, name := range names {
		_, err := srv.Remove(ctx, wrapperspb.String(name))
		wantCode(t, err, codes.PermissionDenied)
		_, err = srv.Write(ctx, wire.WriteRequest(name, []byte("overwrite")))
		wantCode(t, err, codes.PermissionDenied)
		_, err = srv.Read(ctx, wire.ReadRequest(name, -1))
		wantCode(t, err, codes.PermissionDenied)
		_, err = srv.Size(ctx, wrapperspb.String(name))
		wantCode(t, err, codes.PermissionDenied)
	}

	for _, name := range protected {
		got, err := backend.Read(name, -1)
		if err != nil || string(got) != "key material" {
			t.Fatalf("%s changed: %q, %v", name, got, err)
		}
	}

	if _, err := srv.Write(ctx, wire.WriteRequest("notes/./a", []byte("ok"))); err != nil {
		t.Fatalf("write cleanable name: %v", err)
	}
	if got, err := srv.Read(ctx, wire.ReadRequest("notes/a", -1)); err != nil || string(got.GetValue()) != "ok" {
		t.Fatalf("cleaned names should address the same blob: %q, %v", got.GetValue(), err)
	}
}
