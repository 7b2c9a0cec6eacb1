package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/statesync/internal/httpapi"
	"github.com/agentworkforce/statesync/internal/localstore"
	"github.com/agentworkforce/statesync/internal/syncengine"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "save":
		err = runSave(args)
	case "get":
		err = runGet(args)
	case "list":
		err = runList(args)
	case "delete":
		err = runDelete(args)
	case "clear":
		err = runClear(args)
	case "sync":
		err = runSync(args)
	case "watch":
		err = runWatch(args)
	case "token":
		err = runToken(args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: statesync <save|get|list|delete|clear|sync|watch|token> [flags]")
}

type storeFlags struct {
	fs        *flag.FlagSet
	dataDir   *string
	dbName    *string
	storeName *string
	version   *int
	fallback  *bool
}

func newStoreFlags(name string) storeFlags {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return storeFlags{
		fs:        fs,
		dataDir:   fs.String("data-dir", envOrDefault("STATESYNC_DATA_DIR", ".statesync"), "local data directory"),
		dbName:    fs.String("db", envOrDefault("STATESYNC_DB", "statesync"), "backing database name"),
		storeName: fs.String("store", envOrDefault("STATESYNC_STORE", "items"), "logical store name"),
		version:   fs.Int("schema-version", 2, "durable backend schema version"),
		fallback:  fs.Bool("fallback", true, "permit the key-value fallback backend"),
	}
}

func (f storeFlags) open(ctx context.Context) (*localstore.Store, error) {
	store := localstore.NewStore(localstore.Options{
		DataDir:     *f.dataDir,
		DBName:      *f.dbName,
		StoreName:   *f.storeName,
		Version:     *f.version,
		UseFallback: *f.fallback,
		Logger:      log.Default(),
	})
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func runSave(args []string) error {
	flags := newStoreFlags("save")
	id := flags.fs.String("id", "", "item id (generated when empty)")
	payloadRaw := flags.fs.String("payload", "", "JSON payload object")
	_ = flags.fs.Parse(args)

	if strings.TrimSpace(*payloadRaw) == "" {
		return fmt.Errorf("payload is required (--payload)")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(*payloadRaw), &payload); err != nil {
		return fmt.Errorf("payload must be a JSON object: %w", err)
	}

	ctx := context.Background()
	store, err := flags.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	env, err := store.SaveItem(ctx, localstore.SaveRequest{ID: *id, Payload: payload})
	if err != nil {
		return err
	}
	return printJSON(env)
}

func runGet(args []string) error {
	flags := newStoreFlags("get")
	id := flags.fs.String("id", "", "item id")
	_ = flags.fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return fmt.Errorf("id is required (--id)")
	}

	ctx := context.Background()
	store, err := flags.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	env, err := store.GetItem(ctx, *id)
	if err != nil {
		return err
	}
	if env == nil {
		return fmt.Errorf("no item with id %s", *id)
	}
	return printJSON(env)
}

func runList(args []string) error {
	flags := newStoreFlags("list")
	_ = flags.fs.Parse(args)

	ctx := context.Background()
	store, err := flags.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	items, err := store.ListItems(ctx)
	if err != nil {
		return err
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt < items[j].UpdatedAt
	})
	return printJSON(items)
}

func runDelete(args []string) error {
	flags := newStoreFlags("delete")
	id := flags.fs.String("id", "", "item id")
	_ = flags.fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return fmt.Errorf("id is required (--id)")
	}

	ctx := context.Background()
	store, err := flags.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.DeleteItem(ctx, *id)
}

func runClear(args []string) error {
	flags := newStoreFlags("clear")
	_ = flags.fs.Parse(args)

	ctx := context.Background()
	store, err := flags.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.ClearAll(ctx)
}

type remoteFlags struct {
	serverURL *string
	token     *string
	user      *string
	timeout   *time.Duration
}

func newRemoteFlags(fs *flag.FlagSet) remoteFlags {
	return remoteFlags{
		serverURL: fs.String("server", envOrDefault("STATESYNC_SERVER_URL", "http://127.0.0.1:8080"), "server base URL"),
		token:     fs.String("token", strings.TrimSpace(os.Getenv("STATESYNC_TOKEN")), "bearer token"),
		user:      fs.String("user", strings.TrimSpace(os.Getenv("STATESYNC_USER")), "user id"),
		timeout:   fs.Duration("timeout", 15*time.Second, "per-request timeout"),
	}
}

func (f remoteFlags) validate() error {
	if strings.TrimSpace(*f.token) == "" {
		return fmt.Errorf("token is required (--token or STATESYNC_TOKEN)")
	}
	if strings.TrimSpace(*f.user) == "" {
		return fmt.Errorf("user is required (--user or STATESYNC_USER)")
	}
	return nil
}

func runSync(args []string) error {
	flags := newStoreFlags("sync")
	remote := newRemoteFlags(flags.fs)
	activeField := flags.fs.String("active-field", "", "payload field whose truthiness overrides timestamp resolution")
	_ = flags.fs.Parse(args)
	if err := remote.validate(); err != nil {
		return err
	}

	ctx := context.Background()
	store, err := flags.open(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	client := syncengine.NewClient(*remote.serverURL, *remote.token, &http.Client{Timeout: *remote.timeout})
	var resolve syncengine.Resolver
	if strings.TrimSpace(*activeField) != "" {
		resolve = syncengine.ActiveRecordOverride(strings.TrimSpace(*activeField), nil)
	}
	result, err := syncengine.New(store).SyncWithServer(ctx, syncengine.Options{
		Push:    client.PushFunc(*remote.user, store.StoreName()),
		Fetch:   client.FetchFunc(*remote.user, store.StoreName()),
		Resolve: resolve,
		Logger:  log.Default(),
	})
	if err != nil {
		return err
	}
	log.Printf("sync complete: pushed=%d pulled=%d applied=%d", result.Pushed, result.Pulled, result.Applied)
	return nil
}

func runWatch(args []string) error {
	flags := newStoreFlags("watch")
	remote := newRemoteFlags(flags.fs)
	_ = flags.fs.Parse(args)
	if err := remote.validate(); err != nil {
		return err
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := flags.open(rootCtx)
	if err != nil {
		return err
	}
	defer store.Close()
	cache := localstore.NewCache(store)
	if err := cache.Reload(rootCtx); err != nil {
		return err
	}

	client := syncengine.NewClient(*remote.serverURL, *remote.token, nil)
	log.Printf("watching %s/%s for changes", *remote.user, store.StoreName())
	err = client.WatchChanges(rootCtx, *remote.user, store.StoreName(), func() {
		if reloadErr := cache.Reload(rootCtx); reloadErr != nil {
			log.Printf("reload after remote change failed: %v", reloadErr)
			return
		}
		log.Printf("remote change applied, %d items", len(cache.Items()))
	})
	if rootCtx.Err() != nil {
		return nil
	}
	return err
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	secret := fs.String("secret", strings.TrimSpace(os.Getenv("STATESYNC_JWT_SECRET")), "server JWT secret")
	user := fs.String("user", strings.TrimSpace(os.Getenv("STATESYNC_USER")), "user id")
	scopes := fs.String("scopes", "records:read records:write", "space-separated scopes")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	_ = fs.Parse(args)

	if strings.TrimSpace(*secret) == "" {
		return fmt.Errorf("secret is required (--secret or STATESYNC_JWT_SECRET)")
	}
	if strings.TrimSpace(*user) == "" {
		return fmt.Errorf("user is required (--user or STATESYNC_USER)")
	}
	token, err := httpapi.SignToken(*secret, *user, strings.Fields(*scopes), time.Now().Add(*ttl))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
