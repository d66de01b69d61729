package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/piiguard/internal/kvstore"
	"github.com/antoniostano/piiguard/internal/pii"
)

func TestDefaultPolicyBlocksAllButDateOfBirth(t *testing.T) {
	p := Default()
	for _, k := range pii.AllKinds {
		want := k != pii.KindDateOfBirth
		assert.Equal(t, want, IsKindBlocked(p, k), "kind %s", k)
	}
}

func TestIsKindBlocked(t *testing.T) {
	p := Default()
	p.AllowKinds = []pii.Kind{pii.KindEmail}
	assert.False(t, IsKindBlocked(p, pii.KindEmail), "allow list wins")

	p.BlockKinds = nil
	assert.True(t, IsKindBlocked(p, pii.KindDateOfBirth), "empty block list blocks every non-allowed kind")
	assert.False(t, IsKindBlocked(p, pii.KindEmail))
}

func TestIsHostEnabled(t *testing.T) {
	p := Default()
	assert.True(t, IsHostEnabled(p, "claude.ai"))
	assert.True(t, IsHostEnabled(p, " ChatGPT.com "))
	assert.False(t, IsHostEnabled(p, "example.com"))
	assert.False(t, IsHostEnabled(p, ""))

	p.PerSite = map[string]SiteOverride{
		"claude.ai":   {Enabled: false},
		"example.com": {Enabled: true},
	}
	assert.False(t, IsHostEnabled(p, "claude.ai"), "override disables a target host")
	assert.True(t, IsHostEnabled(p, "example.com"), "override enables a non-target host")

	p.Enabled = false
	assert.False(t, IsHostEnabled(p, "example.com"))
}

func TestRedactableKeepsBlockedKinds(t *testing.T) {
	got := Redactable(Default(), []pii.Candidate{
		{Entity: pii.Entity{Label: pii.LabelEmail, Text: "a@b.co"}, Kind: pii.KindEmail},
		{Entity: pii.Entity{Label: pii.LabelDOB, Index: 1, Text: "01/02/1990"}, Kind: pii.KindDateOfBirth},
	})
	require.Len(t, got, 1)
	assert.Equal(t, pii.KindEmail, got[0].Kind)
}

func TestCloneIsDeep(t *testing.T) {
	p := Default()
	c := p.Clone()
	c.TargetHosts[0] = "changed"
	c.PerSite["x"] = SiteOverride{Enabled: true}
	c.BlockKinds[0] = pii.KindName
	assert.Equal(t, "chat.openai.com", p.TargetHosts[0])
	assert.Empty(t, p.PerSite)
	assert.Equal(t, pii.KindEmail, p.BlockKinds[0])
}

func TestDecodeFillsDefaultsAndMapsLegacyKinds(t *testing.T) {
	p, err := Decode([]byte(`{"enabled":true,"targetHosts":["Claude.ai"],"perSite":{},"allowKinds":["DOB"],"blockKinds":["NRIC","bogus"],"localProxy":false}`))
	require.NoError(t, err)
	assert.True(t, p.UseRemoteDetector, "missing useNerApi defaults to true")
	assert.Equal(t, DefaultRemoteDetectorURL, p.RemoteDetectorURL)
	assert.Equal(t, []string{"claude.ai"}, p.TargetHosts)
	assert.Equal(t, []pii.Kind{pii.KindDateOfBirth}, p.AllowKinds)
	assert.Equal(t, []pii.Kind{pii.KindNationalID}, p.BlockKinds)
}

func TestStoreRoundTripAndMalformedFallback(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewInMemoryStore()
	s := NewStore(kv, nil)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Default(), got)

	p := Default()
	p.Enabled = false
	p.UseRemoteDetector = false
	require.NoError(t, s.Save(ctx, p))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.False(t, got.UseRemoteDetector)

	require.NoError(t, kv.Set(ctx, PolicyKey, []byte("{not json")))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Default(), got)
}

func TestStoreAllowlist(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewInMemoryStore()
	s := NewStore(kv, nil)

	values, err := s.LoadAllowlist(ctx)
	require.NoError(t, err)
	assert.Empty(t, values)

	require.NoError(t, s.SaveAllowlist(ctx, []string{"a@b.co", "EMAIL:a@b.co"}))
	values, err = s.LoadAllowlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@b.co", "EMAIL:a@b.co"}, values)

	require.NoError(t, kv.Set(ctx, AllowlistKey, []byte(`"nope"`)))
	values, err = s.LoadAllowlist(ctx)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestLoadFileFormats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"policy.toml": "enabled = true\ntarget_hosts = [\"example.com\"]\nblock_kinds = [\"EMAIL\"]\nuse_remote_detector = false\n",
		"policy.yaml": "enabled: true\ntarget_hosts: [example.com]\nblock_kinds: [EMAIL]\nuse_remote_detector: false\n",
		"policy.json": `{"enabled":true,"targetHosts":["example.com"],"blockKinds":["EMAIL"],"useNerApi":false}`,
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

		p, err := LoadFile(path)
		require.NoError(t, err, name)
		assert.Equal(t, []string{"example.com"}, p.TargetHosts, name)
		assert.Equal(t, []pii.Kind{pii.KindEmail}, p.BlockKinds, name)
		assert.False(t, p.UseRemoteDetector, name)
		assert.Equal(t, DefaultRemoteDetectorURL, p.RemoteDetectorURL, name)
	}

	_, err := LoadFile(filepath.Join(dir, "policy.ini"))
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"enabled":true}`), 0o600))

	changes := make(chan Policy, 4)
	w := NewWatcher(path, func(p Policy) { changes <- p }, nil)
	require.NoError(t, w.Start())
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"enabled":false}`), 0o600))

	select {
	case p := <-changes:
		assert.False(t, p.Enabled)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for policy reload")
	}
}
