// rsakeys-go: RSA key engine and encrypted key storage
// Copyright 2025 Dark Bio AG. All rights reserved.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rsakeys manages an RSA key pair on disk.
//
//	rsakeys generate [-bits 512] [-password pw]
//	rsakeys rotate   [-password pw]
//	rsakeys pubkey   [-format json|pem|cbor]
//	rsakeys encrypt  [-message text | text...]
//	rsakeys decrypt  [-password pw] ciphertext
//	rsakeys backups
//
// Flags must precede positional arguments. Flag defaults come from
// RSAKEYS_DIR, RSAKEYS_BITS, RSAKEYS_ITERATIONS and RSAKEYS_PASSWORD_FILE, set
// in the environment or in a .env file in the working directory.
package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/dark-bio/rsakeys-go/keyservice"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds the process environment of a run.
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// EnvFile is read for defaults; a missing file is ignored.
	EnvFile string

	// Getenv looks up environment variables, which override EnvFile.
	Getenv func(string) string
}

// DefaultConfig returns a config wired to the real process.
func DefaultConfig() Config {
	return Config{
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		EnvFile: ".env",
		Getenv:  os.Getenv,
	}
}

func main() {
	if err := run(os.Args, DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "rsakeys: %v\n", err)
		os.Exit(1)
	}
}

const usage = "usage: rsakeys <generate|rotate|pubkey|encrypt|decrypt|backups> [flags]"

// options are the flags shared by every command.
type options struct {
	dir          string
	bits         int
	iterations   int
	passwordFile string
	password     string
	format       string
	message      string
	logLevel     string
}

func run(args []string, cfg Config) error {
	if len(args) < 2 {
		return errors.New(usage)
	}
	command := args[1]

	env, err := environment(cfg)
	if err != nil {
		return err
	}
	opts, rest, err := parseFlags(command, args[2:], env, cfg.Stderr)
	if err != nil {
		return err
	}
	level, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cfg.Stderr, NoColor: true}).
		Level(level).With().Timestamp().Logger()

	svcCfg := keyservice.DefaultConfig(opts.dir)
	svcCfg.Bits = opts.bits
	svcCfg.Store.Iterations = opts.iterations
	svcCfg.Logger = logger
	if opts.passwordFile != "" {
		svcCfg.PasswordFile = opts.passwordFile
	}
	svc, err := keyservice.New(svcCfg)
	if err != nil {
		return err
	}
	switch command {
	case "generate":
		return generate(svc, opts, cfg.Stdout)
	case "rotate":
		return rotate(svc, opts, cfg.Stdout)
	case "pubkey":
		return pubkey(svc, opts, cfg.Stdout)
	case "encrypt":
		return encrypt(svc, opts, rest, cfg)
	case "decrypt":
		return decrypt(svc, opts, rest, cfg)
	case "backups":
		return backups(svc, cfg.Stdout)
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

// environment merges the .env file under the process environment.
func environment(cfg Config) (func(string) string, error) {
	vars := map[string]string{}
	if cfg.EnvFile != "" {
		read, err := godotenv.Read(cfg.EnvFile)
		switch {
		case err == nil:
			vars = read
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("reading %s: %w", cfg.EnvFile, err)
		}
	}
	getenv := cfg.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	return func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return vars[key]
	}, nil
}

func parseFlags(command string, args []string, env func(string) string, stderr io.Writer) (*options, []string, error) {
	opts := &options{
		dir:          env("RSAKEYS_DIR"),
		passwordFile: env("RSAKEYS_PASSWORD_FILE"),
	}
	if opts.dir == "" {
		opts.dir = "."
	}
	for name, dst := range map[string]*int{"RSAKEYS_BITS": &opts.bits, "RSAKEYS_ITERATIONS": &opts.iterations} {
		if v := env(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid %s %q", name, v)
			}
			*dst = n
		}
	}
	fset := flag.NewFlagSet(command, flag.ContinueOnError)
	fset.SetOutput(stderr)

	fset.StringVar(&opts.dir, "dir", opts.dir, "key directory")
	fset.IntVar(&opts.bits, "bits", opts.bits, "bit length of each prime (0 for the default)")
	fset.IntVar(&opts.iterations, "iterations", opts.iterations, "PBKDF2 iterations (0 for the default)")
	fset.StringVar(&opts.passwordFile, "password-file", opts.passwordFile, "plaintext password file for unattended loads")
	fset.StringVar(&opts.password, "password", "", "envelope password (empty generates or reads the password file)")
	fset.StringVar(&opts.format, "format", "json", "public key output format: json, pem or cbor")
	fset.StringVar(&opts.message, "message", "", "message to encrypt")
	fset.StringVar(&opts.logLevel, "log-level", "info", "log level")

	if err := fset.Parse(args); err != nil {
		return nil, nil, err
	}
	// flag stops at the first positional argument, so a later flag would be
	// silently taken as text. Only an explicit "--" allows that.
	rest := fset.Args()
	if terminated := len(rest) < len(args) && args[len(args)-len(rest)-1] == "--"; !terminated {
		for _, arg := range rest {
			if len(arg) > 1 && strings.HasPrefix(arg, "-") {
				return nil, nil, fmt.Errorf("flag %q after positional arguments; flags must come first, or use -- before text", arg)
			}
		}
	}
	return opts, rest, nil
}

func generate(svc *keyservice.Service, opts *options, out io.Writer) error {
	if err := svc.GenerateKeys(opts.bits, opts.password); err != nil {
		return err
	}
	return printFingerprint(svc, out)
}

func rotate(svc *keyservice.Service, opts *options, out io.Writer) error {
	if err := svc.Rotate(opts.password); err != nil {
		return err
	}
	return printFingerprint(svc, out)
}

func printFingerprint(svc *keyservice.Service, out io.Writer) error {
	fp := svc.PublicKey().Fingerprint()
	_, err := fmt.Fprintln(out, hex.EncodeToString(fp[:]))
	return err
}

func pubkey(svc *keyservice.Service, opts *options, out io.Writer) error {
	if err := svc.LoadPublicKey(); err != nil {
		return err
	}
	key := svc.PublicKey()

	switch opts.format {
	case "json":
		blob, err := json.Marshal(key)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(blob))
		return err
	case "pem":
		pem, err := key.MarshalPEM()
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, pem)
		return err
	case "cbor":
		blob, err := key.EncodeCBOR()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, hex.EncodeToString(blob))
		return err
	default:
		return fmt.Errorf("unknown format %q", opts.format)
	}
}

func encrypt(svc *keyservice.Service, opts *options, rest []string, cfg Config) error {
	message := opts.message
	if message == "" && len(rest) > 0 {
		message = strings.Join(rest, " ")
	}
	if message == "" {
		blob, err := io.ReadAll(cfg.Stdin)
		if err != nil {
			return err
		}
		message = strings.TrimSuffix(string(blob), "\n")
	}
	if err := svc.LoadPublicKey(); err != nil {
		return err
	}
	c, err := svc.EncryptMessage(message)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cfg.Stdout, c.String())
	return err
}

func decrypt(svc *keyservice.Service, opts *options, rest []string, cfg Config) error {
	var input string
	if len(rest) > 0 {
		input = rest[0]
	} else {
		line, err := bufio.NewReader(cfg.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		input = strings.TrimSpace(line)
	}
	c, ok := new(big.Int).SetString(input, 10)
	if !ok || c.Sign() < 0 {
		return fmt.Errorf("ciphertext %q is not a non-negative decimal integer", input)
	}
	var err error
	if opts.password != "" {
		err = svc.LoadPrivateKey(opts.password)
	} else {
		err = svc.LoadPrivateKeyAuto()
	}
	if err != nil {
		return err
	}
	text, err := svc.DecryptMessage(c)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cfg.Stdout, text)
	return err
}

func backups(svc *keyservice.Service, out io.Writer) error {
	paths, err := svc.Store().Backups()
	if err != nil {
		return err
	}
	for _, path := range paths {
		if _, err := fmt.Fprintln(out, path); err != nil {
			return err
		}
	}
	return nil
}
