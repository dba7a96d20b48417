// Package transport dials and listens for KCP sessions and derives the
// symmetric cipher used to protect them, adapted from this module's
// teacher's client/dial.go, server/listen.go, and std/crypt.go.
package transport

import (
	"crypto/sha1"
	"log"
	"time"

	"github.com/pkg/errors"
	kcp "github.com/xtaci/kcp-go/v5"
	"github.com/xtaci/smux"
	"golang.org/x/crypto/pbkdf2"
)

// salt is the PBKDF2 salt used to derive the shared session key, matching
// the teacher's SALT constant verbatim so existing deployments' keys stay
// compatible if this module ever replaces kcptun outright.
const salt = "kcp-go"

// DeriveKey stretches a pre-shared secret into a 32-byte key via PBKDF2,
// exactly as client/main.go and server/main.go do before selecting a
// BlockCrypt.
func DeriveKey(secret string) []byte {
	return pbkdf2.Key([]byte(secret), []byte(salt), 4096, 32, sha1.New)
}

type cryptMethod struct {
	keySize int
	build   func(key []byte) (kcp.BlockCrypt, error)
}

// cryptMethods mirrors std/crypt.go's lookup table.
var cryptMethods = map[string]cryptMethod{
	"null":        {0, func(key []byte) (kcp.BlockCrypt, error) { return nil, nil }},
	"none":        {0, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewNoneBlockCrypt(key) }},
	"xor":         {0, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewSimpleXORBlockCrypt(key) }},
	"aes":         {0, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewAESBlockCrypt(key) }},
	"aes-128":     {16, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewAESBlockCrypt(key) }},
	"aes-192":     {24, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewAESBlockCrypt(key) }},
	"aes-128-gcm": {16, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewAESGCMCrypt(key) }},
	"salsa20":     {0, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewSalsa20BlockCrypt(key) }},
	"blowfish":    {0, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewBlowfishBlockCrypt(key) }},
	"twofish":     {0, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewTwofishBlockCrypt(key) }},
	"cast5":       {16, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewCast5BlockCrypt(key) }},
	"3des":        {24, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewTripleDESBlockCrypt(key) }},
	"tea":         {16, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewTEABlockCrypt(key) }},
	"xtea":        {16, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewXTEABlockCrypt(key) }},
	"sm4":         {16, func(key []byte) (kcp.BlockCrypt, error) { return kcp.NewSM4BlockCrypt(key) }},
}

// SelectBlockCrypt translates a human readable cipher name into a concrete
// kcp.BlockCrypt, falling back to AES (and reporting the effective name)
// when the requested cipher fails to construct, same as std.SelectBlockCrypt.
func SelectBlockCrypt(method string, key []byte) (kcp.BlockCrypt, string) {
	m, ok := cryptMethods[method]
	if !ok {
		block, _ := kcp.NewAESBlockCrypt(key)
		return block, "aes"
	}

	effectiveKey := key
	if m.keySize > 0 && len(key) >= m.keySize {
		effectiveKey = key[:m.keySize]
	}
	block, err := m.build(effectiveKey)
	if err != nil {
		log.Printf("transport: failed to build %s cipher: %v, falling back to aes", method, err)
		block, _ = kcp.NewAESBlockCrypt(key)
		return block, "aes"
	}
	return block, method
}

// Profile bundles the NoDelay/Interval/Resend/NoCongestion tuning KCP
// exposes under a human readable name, matching the "-mode" flag's
// normal/fast/fast2/fast3 presets in client/main.go and server/main.go.
type Profile struct {
	NoDelay      int
	Interval     int
	Resend       int
	NoCongestion int
}

// Profiles is the fixed set of tuning presets the CLI accepts.
var Profiles = map[string]Profile{
	"normal": {0, 40, 2, 1},
	"fast":   {0, 30, 2, 1},
	"fast2":  {1, 20, 2, 1},
	"fast3":  {1, 10, 2, 1},
}

// Dial opens a KCP session to raddr, matching client/dial.go's dial().
func Dial(raddr string, block kcp.BlockCrypt, dataShards, parityShards int) (*kcp.UDPSession, error) {
	sess, err := kcp.DialWithOptions(raddr, block, dataShards, parityShards)
	if err != nil {
		return nil, errors.Wrap(err, "transport.Dial")
	}
	return sess, nil
}

// Listen opens a KCP listener on laddr, matching server/listen.go's listen().
func Listen(laddr string, block kcp.BlockCrypt, dataShards, parityShards int) (*kcp.Listener, error) {
	lis, err := kcp.ListenWithOptions(laddr, block, dataShards, parityShards)
	if err != nil {
		return nil, errors.Wrap(err, "transport.Listen")
	}
	return lis, nil
}

// Tune applies the window, MTU, and nodelay-profile settings shared by
// both client dial and server accept paths in the teacher's main.go files.
func Tune(sess *kcp.UDPSession, profile Profile, mtu, sndwnd, rcvwnd int, ackNoDelay bool, rateLimit int) {
	sess.SetStreamMode(true)
	sess.SetWriteDelay(false)
	sess.SetNoDelay(profile.NoDelay, profile.Interval, profile.Resend, profile.NoCongestion)
	sess.SetWindowSize(sndwnd, rcvwnd)
	sess.SetMtu(mtu)
	sess.SetACKNoDelay(ackNoDelay)
	sess.SetRateLimit(uint32(rateLimit))
}

// BuildSmuxConfig constructs and verifies a smux.Config from CLI parameters,
// matching std/smuxcfg.go's BuildSmuxConfig.
func BuildSmuxConfig(version, maxReceiveBuffer, maxStreamBuffer, maxFrameSize, keepAliveSeconds int) (*smux.Config, error) {
	cfg := smux.DefaultConfig()
	cfg.Version = version
	cfg.MaxReceiveBuffer = maxReceiveBuffer
	cfg.MaxStreamBuffer = maxStreamBuffer
	cfg.MaxFrameSize = maxFrameSize
	cfg.KeepAliveInterval = time.Duration(keepAliveSeconds) * time.Second
	return cfg, smux.VerifyConfig(cfg)
}
