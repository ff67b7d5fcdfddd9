package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/mickamy/ormassoc/model"
	"github.com/mickamy/ormassoc/orm"
	"github.com/mickamy/ormassoc/schema"
	"github.com/mickamy/ormassoc/store"
)

//go:embed blog.yaml
var blogSchema []byte

var ddl = map[string][]string{
	"sqlite": {
		`CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL DEFAULT '')`,
		`CREATE TABLE posts (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT NOT NULL, user_id INTEGER)`,
		`CREATE TABLE comments (id INTEGER PRIMARY KEY AUTOINCREMENT, body TEXT NOT NULL, post_id INTEGER)`,
	},
	"mysql": {
		`CREATE TABLE users (id INT AUTO_INCREMENT PRIMARY KEY, name VARCHAR(255) NOT NULL DEFAULT '')`,
		`CREATE TABLE posts (id INT AUTO_INCREMENT PRIMARY KEY, title VARCHAR(255) NOT NULL, user_id INT)`,
		`CREATE TABLE comments (id INT AUTO_INCREMENT PRIMARY KEY, body TEXT NOT NULL, post_id INT)`,
	},
	"postgresql": {
		`CREATE TABLE users (id SERIAL PRIMARY KEY, name VARCHAR(255) NOT NULL DEFAULT '')`,
		`CREATE TABLE posts (id SERIAL PRIMARY KEY, title VARCHAR(255) NOT NULL, user_id INT)`,
		`CREATE TABLE comments (id SERIAL PRIMARY KEY, body TEXT NOT NULL, post_id INT)`,
	},
}

func main() {
	dialect := flag.String("dialect", "sqlite", "database dialect (sqlite, mysql or postgres)")
	dsn := flag.String("dsn", ":memory:", "data source name")
	debug := flag.Bool("debug", false, "log queries and dropped attributes")
	flag.Parse()

	ctx := context.Background()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	d, err := orm.ParseDialect(*dialect)
	if err != nil {
		log.Fatal(err)
	}
	db, err := orm.Open(d, *dsn)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	db = db.Debug(orm.NewSlogLogger(logger))

	// CREATE TABLE
	fmt.Println("--- CREATE TABLE ---")
	for _, table := range []string{"comments", "posts", "users"} {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			log.Fatalf("drop table: %v", err)
		}
	}
	for _, stmt := range ddl[d.Name()] {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			log.Fatalf("create table: %v", err)
		}
	}
	fmt.Println("Tables 'users', 'posts' and 'comments' created.")

	st := store.New(db, store.TableFor("User"), store.TableFor("Post"), store.TableFor("Comment")).WithLogger(logger)
	s, err := schema.Parse(blogSchema)
	if err != nil {
		log.Fatalf("schema: %v", err)
	}
	pools := make(map[string]*model.Collection)
	types, err := s.Build(schema.Registry{Transport: st, Logger: logger, Pools: pools})
	if err != nil {
		log.Fatalf("build: %v", err)
	}
	users := pools["users"]

	// CREATE
	fmt.Println("\n--- CREATE ---")
	alice, err := users.Create(ctx, model.Attributes{"name": "Alice"}, model.Callbacks{})
	if err != nil {
		log.Fatalf("create Alice: %v", err)
	}
	fmt.Printf("Created user: %v\n", alice.Attributes())

	post, err := types["Post"].New(ctx, model.Attributes{"title": "Hello", "user_id": alice.ID()})
	if err != nil {
		log.Fatalf("new post: %v", err)
	}
	if err := post.Save(ctx, nil, model.Callbacks{}); err != nil {
		log.Fatalf("save post: %v", err)
	}
	fmt.Printf("Created post: %v (author %v)\n", post.Attributes(), post.One("User").Get("name"))

	for _, body := range []string{"First!", "Nice post."} {
		if _, err := post.Many("Comments").Create(ctx, model.Attributes{"body": body, "post_id": post.ID()}, model.Callbacks{}); err != nil {
			log.Fatalf("create comment: %v", err)
		}
	}

	// FETCH
	fmt.Println("\n--- FETCH ---")
	loaded, err := types["Post"].New(ctx, model.Attributes{"id": post.ID(), "user_id": post.Get("user_id")})
	if err != nil {
		log.Fatalf("load post: %v", err)
	}
	if err := loaded.Fetch(ctx, model.Callbacks{}); err != nil {
		log.Fatalf("fetch post: %v", err)
	}
	fmt.Printf("Loaded post: %v\n", loaded.Attributes())
	for _, c := range loaded.Many("Comments").Models() {
		fmt.Printf("  comment: %v\n", c.Attributes())
	}

	// CHANGE RELATIONSHIP
	fmt.Println("\n--- CHANGE RELATIONSHIP ---")
	bob, err := loaded.ChangeRelationship(ctx, "User", model.Attributes{"name": "Bob"})
	if err != nil {
		log.Fatalf("change author: %v", err)
	}
	fmt.Printf("New author: %v, post user_id=%v\n", bob.Attributes(), loaded.Get("user_id"))

	// DESTROY
	fmt.Println("\n--- DESTROY ---")
	if err := loaded.Destroy(ctx, model.Callbacks{}); err != nil {
		log.Fatalf("destroy post: %v", err)
	}
	for _, table := range []string{"users", "posts", "comments"} {
		n, err := orm.Table(db, table, "id").Count(ctx)
		if err != nil {
			log.Fatalf("count %s: %v", table, err)
		}
		fmt.Printf("Remaining %s: %d\n", table, n)
	}
}
