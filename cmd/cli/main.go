// Command lexchat is a CLI client for the lexchat server.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	grpcinsecure "google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/and161185/lexchat/internal/model"
	"github.com/and161185/lexchat/internal/presence"
	grpcserver "github.com/and161185/lexchat/internal/server/grpc"
	"github.com/and161185/lexchat/internal/socketclient"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "lexchat")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "lexchat")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tf tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tf)
}

func loadToken() (tokenFile, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return tokenFile{}, err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return tokenFile{}, err
	}
	if tf.AccessToken == "" || tf.UserID == "" || time.Now().After(tf.ExpiresAt) {
		return tokenFile{}, errors.New("no valid token (login required)")
	}
	return tf, nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, insecure bool) (credentials.TransportCredentials, error) {
	if insecure {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

type grpcFlags struct {
	addr      string
	caPath    string
	insecure  bool
	plaintext bool
}

func dialPresence(g grpcFlags, bearer string) (*grpc.ClientConn, grpcserver.PresenceClient, error) {
	var opts []grpc.DialOption
	if g.plaintext {
		opts = append(opts, grpc.WithTransportCredentials(grpcinsecure.NewCredentials()))
	} else {
		creds, err := loadTLS(g.caPath, g.insecure)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	}
	opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !g.plaintext}))
	cc, err := grpc.NewClient(g.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, grpcserver.NewPresenceClient(cc), nil
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func splitIDs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// multiFlag collects a repeated string flag.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func profileFlags(h flag.ErrorHandling) *flag.FlagSet {
	fs := flag.NewFlagSet("update-profile", h)
	fs.String("first", "", "first name")
	fs.String("last", "", "last name")
	fs.String("field", "", "practice areas, comma separated")
	fs.String("about", "", "description")
	fs.Int("years", 0, "years of experience")
	fs.Float64("lon", 0, "longitude")
	fs.Float64("lat", 0, "latitude")
	return fs
}

// profilePatchBody keeps only the flags that were set, so unset fields stay untouched.
func profilePatchBody(fs *flag.FlagSet) (map[string]any, error) {
	body := map[string]any{}
	loc := map[string]float64{}
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.(flag.Getter).Get()
		switch f.Name {
		case "first":
			body["firstName"] = v
		case "last":
			body["lastName"] = v
		case "field":
			body["field"] = append([]string{}, splitIDs(v.(string))...)
		case "about":
			body["description"] = v
		case "years":
			body["experience"] = v
		case "lon":
			loc["longitude"] = v.(float64)
		case "lat":
			loc["latitude"] = v.(float64)
		}
	})
	switch len(loc) {
	case 0:
	case 2:
		body["location"] = loc
	default:
		return nil, errors.New("need both -lon and -lat")
	}
	if len(body) == 0 {
		return nil, errors.New("nothing to update")
	}
	return body, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `lexchat CLI

Usage:
  lexchat [-api URL] [-grpc HOST:PORT] [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  register     -first <name> -last <name> -email <email> -p <password> [-role user|lawyer]
  login        -email <email> -p <password>          (saves token)
  profile
  update-profile [-first <name>] [-last <name>] [-field a,b] [-about <text>] [-years N] [-lon X -lat Y]
  contacts
  add-contact  -with <userId>
  history      -contact <contactId>
  send         -contact <contactId> -to <userId> -text <text> [-file url]...
  read         -id <messageId>
  online       [-ids id,id,...]                       (presence RPC)
  listen                                              (prints live events until interrupted)
`)
	os.Exit(2)
}

func fail(err error) {
	if st, ok := status.FromError(err); ok && st.Code() != 0 {
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", st.Code(), st.Message())
	} else {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(1)
}

func mustToken() tokenFile {
	tf, err := loadToken()
	if err != nil {
		fail(err)
	}
	return tf
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	// global flags
	apiBase := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	var g grpcFlags
	flag.StringVar(&g.addr, "grpc", "localhost:9090", "presence gRPC addr")
	flag.StringVar(&g.caPath, "cacert", "", "CA cert (PEM)")
	flag.BoolVar(&g.insecure, "insecure", false, "skip cert verify (dev)")
	flag.BoolVar(&g.plaintext, "plaintext", false, "gRPC without TLS (dev)")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {
	case "version":
		fmt.Printf("lexchat %s (%s)\n", version, buildDate)

	case "register":
		fs := flag.NewFlagSet("register", flag.ExitOnError)
		first := fs.String("first", "", "first name")
		last := fs.String("last", "", "last name")
		email := fs.String("email", "", "email")
		p := fs.String("p", "", "password")
		role := fs.String("role", "", "role (user, lawyer)")
		_ = fs.Parse(args)
		if *email == "" || *p == "" {
			fmt.Fprintln(os.Stderr, "need -email and -p")
			os.Exit(1)
		}
		var out struct {
			User model.UserSummary `json:"user"`
		}
		err := newAPIClient(*apiBase, "").do(ctx, "POST", "/api/users/register", map[string]string{
			"firstName": *first, "lastName": *last, "email": *email, "password": *p, "role": *role,
		}, &out)
		if err != nil {
			fail(err)
		}
		fmt.Println(out.User.ID)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		email := fs.String("email", "", "email")
		p := fs.String("p", "", "password")
		_ = fs.Parse(args)
		if *email == "" || *p == "" {
			fmt.Fprintln(os.Stderr, "need -email and -p")
			os.Exit(1)
		}
		var out struct {
			Token     string            `json:"token"`
			ExpiresAt time.Time         `json:"expiresAt"`
			User      model.UserSummary `json:"user"`
		}
		err := newAPIClient(*apiBase, "").do(ctx, "POST", "/api/users/login",
			map[string]string{"email": *email, "password": *p}, &out)
		if err != nil {
			fail(err)
		}
		if err := saveToken(tokenFile{AccessToken: out.Token, ExpiresAt: out.ExpiresAt, UserID: out.User.ID.String()}); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "profile":
		tf := mustToken()
		var out map[string]any
		if err := newAPIClient(*apiBase, tf.AccessToken).do(ctx, "GET", "/api/users/profile", nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "update-profile":
		fs := profileFlags(flag.ExitOnError)
		_ = fs.Parse(args)
		body, err := profilePatchBody(fs)
		if err != nil {
			fail(err)
		}
		tf := mustToken()
		var out map[string]any
		if err := newAPIClient(*apiBase, tf.AccessToken).do(ctx, "PATCH", "/api/users/updateProfile", body, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "contacts":
		tf := mustToken()
		var out []model.ContactView
		if err := newAPIClient(*apiBase, tf.AccessToken).do(ctx, "GET", "/api/contacts/"+tf.UserID, nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "add-contact":
		fs := flag.NewFlagSet("add-contact", flag.ExitOnError)
		with := fs.String("with", "", "user id of the other party")
		_ = fs.Parse(args)
		if *with == "" {
			fmt.Fprintln(os.Stderr, "need -with")
			os.Exit(1)
		}
		tf := mustToken()
		var out model.Contact
		err := newAPIClient(*apiBase, tf.AccessToken).do(ctx, "POST", "/api/contacts",
			map[string]string{"user1": tf.UserID, "user2": *with}, &out)
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "history":
		fs := flag.NewFlagSet("history", flag.ExitOnError)
		contact := fs.String("contact", "", "contact id")
		_ = fs.Parse(args)
		if *contact == "" {
			fmt.Fprintln(os.Stderr, "need -contact")
			os.Exit(1)
		}
		tf := mustToken()
		var out []model.Message
		if err := newAPIClient(*apiBase, tf.AccessToken).do(ctx, "GET", "/api/messages/"+*contact, nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "send":
		fs := flag.NewFlagSet("send", flag.ExitOnError)
		contact := fs.String("contact", "", "contact id")
		to := fs.String("to", "", "receiver user id")
		text := fs.String("text", "", "message text")
		var files multiFlag
		fs.Var(&files, "file", "attachment URL (repeatable)")
		_ = fs.Parse(args)
		if *contact == "" || *to == "" || (*text == "" && len(files) == 0) {
			fmt.Fprintln(os.Stderr, "need -contact, -to and -text or -file")
			os.Exit(1)
		}
		tf := mustToken()

		// durable write first, then the live relay
		var msg model.Message
		err := newAPIClient(*apiBase, tf.AccessToken).do(ctx, "POST", "/api/messages/send", map[string]any{
			"contactId": *contact, "senderId": tf.UserID, "receiverId": *to, "content": *text, "fileUrl": []string(files),
		}, &msg)
		if err != nil {
			fail(err)
		}
		if err := relayMessage(ctx, *apiBase, tf, msg); err != nil {
			fmt.Fprintln(os.Stderr, "stored, live relay failed:", err)
		}
		printJSON(msg)

	case "read":
		fs := flag.NewFlagSet("read", flag.ExitOnError)
		id := fs.String("id", "", "message id")
		_ = fs.Parse(args)
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		tf := mustToken()
		var out model.Message
		err := newAPIClient(*apiBase, tf.AccessToken).do(ctx, "PATCH", "/api/messages/"+*id+"/status",
			map[string]bool{"delivered": true, "read": true}, &out)
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "online":
		fs := flag.NewFlagSet("online", flag.ExitOnError)
		ids := fs.String("ids", "", "comma separated user ids")
		_ = fs.Parse(args)
		tf := mustToken()
		cc, cli, err := dialPresence(g, tf.AccessToken)
		if err != nil {
			fail(err)
		}
		defer cc.Close()
		if *ids == "" {
			out, err := cli.Stats(ctx, &grpcserver.StatsRequest{})
			if err != nil {
				fail(err)
			}
			printJSON(out)
			return
		}
		out, err := cli.OnlineSubset(ctx, &grpcserver.OnlineSubsetRequest{UserIDs: splitIDs(*ids)})
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "listen":
		tf := mustToken()
		cancel()
		if err := listen(*apiBase, tf); err != nil {
			fail(err)
		}

	default:
		usage()
	}
}

// relayMessage opens a short-lived live connection and relays msg to its receiver.
func relayMessage(ctx context.Context, apiBase string, tf tokenFile, msg model.Message) error {
	u, err := liveURL(apiBase)
	if err != nil {
		return err
	}
	m := socketclient.New(nil)
	if err := m.Connect(ctx, socketclient.Options{
		URL:      u,
		UserID:   tf.UserID,
		Token:    tf.AccessToken,
		Contacts: []string{msg.ReceiverID.String()},
	}); err != nil {
		return err
	}
	defer m.Disconnect()
	return m.SendMessage(msg)
}

// listen prints every live event as one JSON line until interrupted.
func listen(apiBase string, tf tokenFile) error {
	u, err := liveURL(apiBase)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := socketclient.New(nil)
	echo := func(name string) socketclient.Handler {
		return func(p json.RawMessage) {
			b, _ := json.Marshal(presence.Event{Name: name, Payload: p})
			fmt.Println(string(b))
		}
	}
	handlers := map[string]socketclient.Handler{}
	for _, ev := range []string{
		presence.EventOnlineSnapshot, presence.EventUserOnline, presence.EventUserOffline,
		presence.EventReceiveMessage, presence.EventUserTyping, presence.EventMessageStatus,
		socketclient.EventConnect, socketclient.EventDisconnect,
	} {
		handlers[ev] = echo(ev)
	}
	handlers[socketclient.EventReconnectFailed] = func(p json.RawMessage) {
		echo(socketclient.EventReconnectFailed)(p)
		stop()
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := m.Connect(dialCtx, socketclient.Options{
		URL:      u,
		UserID:   tf.UserID,
		Token:    tf.AccessToken,
		Handlers: handlers,
	}); err != nil {
		return err
	}
	<-ctx.Done()
	m.Disconnect()
	return nil
}
