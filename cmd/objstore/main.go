package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/objstore/pkg/core"
)

var (
	dbPath  string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "objstore",
	Short: "CLI tool for the embedded object store",
	Long:  `A command-line interface for managing typed objects and keyword search in an SQLite-backed object store.`,
}

func openStore(ctx context.Context) (*core.Store, error) {
	config := core.DefaultConfig()
	config.Path = dbPath
	if verbose {
		config.Logger = core.NewStdLogger(core.LevelDebug)
	}
	store, err := core.NewWithConfig(config)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new object database",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		defer store.Close()

		fmt.Printf("Object database initialized at %s\n", dbPath)
		return nil
	},
}

// schemaFile is the TOML layout consumed by the register command:
//
//	[types.photo]
//	indexes = [["album", "shot_at"]]
//	[types.photo.attrs]
//	title = { type = "text", flags = ["keywords"] }
//	album = { type = "text", flags = ["searchable"] }
//	notes = { type = "text" }
type schemaFile struct {
	Types map[string]schemaType `toml:"types"`
}

type schemaType struct {
	Attrs   map[string]schemaAttr `toml:"attrs"`
	Indexes [][]string            `toml:"indexes"`
}

type schemaAttr struct {
	Type  string   `toml:"type"`
	Flags []string `toml:"flags"`
}

func parseAttr(spec schemaAttr) (core.Attr, error) {
	attr := core.Attr{Type: core.AttrType(spec.Type)}
	for _, flag := range spec.Flags {
		switch strings.ToLower(flag) {
		case "simple":
		case "searchable":
			attr.Flags |= core.AttrSearchable
		case "indexed":
			attr.Flags |= core.AttrIndexed
		case "keywords":
			attr.Flags |= core.AttrKeywords
		case "ignore_case":
			attr.Flags |= core.AttrIgnoreCase
		default:
			return core.Attr{}, fmt.Errorf("unknown attribute flag %q", flag)
		}
	}
	return attr, nil
}

var registerCmd = &cobra.Command{
	Use:   "register <schema.toml>",
	Short: "Register object types from a TOML schema file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var schema schemaFile
		if _, err := toml.DecodeFile(args[0], &schema); err != nil {
			return fmt.Errorf("failed to parse schema file: %w", err)
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		for name, t := range schema.Types {
			attrs := make(map[string]core.Attr, len(t.Attrs))
			for attrName, spec := range t.Attrs {
				attr, err := parseAttr(spec)
				if err != nil {
					return fmt.Errorf("type %q attribute %q: %w", name, attrName, err)
				}
				attrs[attrName] = attr
			}
			if err := store.RegisterType(cmd.Context(), name, attrs, t.Indexes...); err != nil {
				return fmt.Errorf("failed to register type %q: %w", name, err)
			}
			fmt.Printf("Registered type %s (%d attributes, %d indexes)\n", name, len(attrs), len(t.Indexes))
		}
		return nil
	},
}

func parseParent(spec string) (*core.Ref, error) {
	if spec == "" {
		return nil, nil
	}
	typeName, idStr, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, fmt.Errorf("parent must be type:id, got %q", spec)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid parent id %q: %w", idStr, err)
	}
	return &core.Ref{Type: typeName, ID: id}, nil
}

var addCmd = &cobra.Command{
	Use:   "add <type>",
	Short: "Add an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		attrsJSON, _ := cmd.Flags().GetString("attrs")
		parentSpec, _ := cmd.Flags().GetString("parent")

		var attrs map[string]any
		if attrsJSON != "" {
			if err := json.Unmarshal([]byte(attrsJSON), &attrs); err != nil {
				return fmt.Errorf("invalid attrs JSON: %w", err)
			}
		}
		parent, err := parseParent(parentSpec)
		if err != nil {
			return err
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		obj, err := store.Add(cmd.Context(), args[0], parent, attrs)
		if err != nil {
			return err
		}
		if err := store.Commit(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("Added %s/%d\n", obj.Type, obj.ID)
		return nil
	},
}

func parseWhere(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	where := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("where constraint must be attr=value, got %q", pair)
		}
		// Values that parse as JSON keep their type; anything else is a
		// plain string.
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		where[key] = value
	}
	return where, nil
}

func printObjects(objects []*core.Object) {
	for _, obj := range objects {
		attrs, _ := json.Marshal(obj.Attrs)
		fmt.Printf("%s/%d %s\n", obj.Type, obj.ID, attrs)
	}
	fmt.Printf("%d object(s)\n", len(objects))
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query objects by attribute constraints and keywords",
	RunE: func(cmd *cobra.Command, args []string) error {
		typeName, _ := cmd.Flags().GetString("type")
		keywords, _ := cmd.Flags().GetString("keywords")
		limit, _ := cmd.Flags().GetInt("limit")
		wherePairs, _ := cmd.Flags().GetStringArray("where")

		where, err := parseWhere(wherePairs)
		if err != nil {
			return err
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		results, err := store.Query(cmd.Context(), &core.Query{
			Type:     typeName,
			Keywords: keywords,
			Limit:    limit,
			Where:    where,
		})
		if err != nil {
			return err
		}
		printObjects(results)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <phrase>",
	Short: "Keyword search, printing (type, id) pairs by relevance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typeName, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		refs, err := store.Search(cmd.Context(), args[0], limit, typeName)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			fmt.Printf("%s/%d\n", ref.Type, ref.ID)
		}
		fmt.Printf("%d match(es)\n", len(refs))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <type> <id>",
	Short: "Delete an object and all of its descendants",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[1], err)
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		count, err := store.Delete(cmd.Context(), args[0], id)
		if err != nil {
			return err
		}
		if err := store.Commit(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("Deleted %d object(s)\n", count)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show database statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		info, err := store.Info(cmd.Context())
		if err != nil {
			return err
		}
		for name, count := range info.Counts {
			fmt.Printf("%-20s %d object(s)\n", name, count)
		}
		fmt.Printf("keyword objects: %d\n", info.Total)
		fmt.Printf("indexed words:   %d\n", info.WordCount)
		return nil
	},
}

var vacuumCmd = &cobra.Command{
	Use:   "vacuum",
	Short: "Drop dead index words and compact the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Vacuum(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Vacuum complete")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "objstore.db", "Database file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	addCmd.Flags().String("attrs", "", "Attribute values as a JSON object")
	addCmd.Flags().String("parent", "", "Parent reference as type:id")

	queryCmd.Flags().String("type", "", "Restrict to one object type")
	queryCmd.Flags().String("keywords", "", "Free-text keyword search")
	queryCmd.Flags().Int("limit", 0, "Maximum results per type")
	queryCmd.Flags().StringArray("where", nil, "Attribute constraint attr=value (repeatable)")

	searchCmd.Flags().String("type", "", "Restrict to one object type")
	searchCmd.Flags().Int("limit", 100, "Maximum results")

	rootCmd.AddCommand(initCmd, registerCmd, addCmd, queryCmd, searchCmd, deleteCmd, infoCmd, vacuumCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.SetFlags(0)
		log.Fatal(err)
	}
}
