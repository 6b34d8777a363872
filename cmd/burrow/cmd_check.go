package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/odvcencio/burrow/pkg/bundle"
	"github.com/odvcencio/burrow/pkg/config"
	"github.com/odvcencio/burrow/pkg/object"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <object-path>",
		Short: "Load the store as a tree and report on one object",
		Long: "Load every archive under the configured load and save paths into one\n" +
			"tree, resolve dependencies, then report whether the object at\n" +
			"object-path still serializes to its archive and what depends on it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			s, root, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			o, err := s.Find(root, args[0])
			if err != nil {
				return err
			}
			if err := s.PageIn(o); err != nil {
				return err
			}
			changed, err := s.Changed(o)
			if err != nil {
				return err
			}
			file, err := s.ArchiveFile(o)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "object   %s\n", o)
			fmt.Fprintf(out, "class    %s\n", o.Class().Ancestry())
			fmt.Fprintf(out, "archive  %s\n", file)
			fmt.Fprintf(out, "flags    %s\n", o.Flags())
			for _, d := range o.Deps() {
				if t := s.Lookup(d.Target); t != nil {
					fmt.Fprintf(out, "dep      %s\n", t)
				}
			}
			for _, u := range s.Dependents(o) {
				fmt.Fprintf(out, "used-by  %s\n", u)
			}
			fmt.Fprintf(out, "in-use   %t\n", s.InUse(o))
			fmt.Fprintf(out, "changed  %t\n", changed)
			return nil
		},
	}
}

// openStore loads every archive the configured store can see into one tree
// and resolves its dependencies. Classes come from the archives themselves
// as stand-ins. Archives load parents first; a tree level with no archive
// of its own becomes a plain placeholder object. When two directories hold
// the same object, the one searched first wins, as on load.
func openStore(cfg *config.Config, logger *zap.Logger) (*object.Space, *object.Object, error) {
	store := cfg.NewStore()
	reg := object.NewRegistry()
	s := object.NewSpace(object.WithRegistry(reg), object.WithStore(store), object.WithLogger(logger))

	byPath := make(map[string]bundle.Archive)
	var paths []string
	for _, dir := range store.Dirs() {
		found, err := bundle.Scan(dir, logger)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		for _, a := range found {
			p := treePath(a.Path)
			if p != "/" && strings.HasSuffix(p, "/") {
				logger.Debug("skipping root archive in a class directory", zap.String("file", a.File))
				continue
			}
			if _, dup := byPath[p]; dup {
				continue
			}
			byPath[p] = a
			paths = append(paths, p)
		}
	}
	sort.Slice(paths, func(i, j int) bool {
		di, dj := strings.Count(paths[i], "/"), strings.Count(paths[j], "/")
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})

	// Register every class before loading so children tables resolve to
	// the same classes.
	classes := make(map[string]*object.Class, len(paths))
	for _, p := range paths {
		c, err := reg.Opaque(byPath[p].Header)
		if err != nil {
			return nil, nil, err
		}
		classes[p] = c
	}

	rootClass := object.Base
	if c, ok := classes["/"]; ok {
		rootClass = c
	}
	root, err := s.NewRoot(rootClass)
	if err != nil {
		return nil, nil, err
	}

	for _, p := range paths {
		if p == "/" {
			root.SetFlags(object.FlagPersistent)
			if err := s.LoadGeneric(root); err != nil {
				return nil, nil, err
			}
			continue
		}
		dir, name := path.Split(p)
		parent, err := ensurePath(s, root, dir)
		if err != nil {
			return nil, nil, err
		}
		if _, err := s.LoadObject(parent, classes[p], name); err != nil {
			return nil, nil, err
		}
	}
	if err := s.ResolveDeps(root); err != nil {
		return nil, nil, err
	}
	logger.Debug("opened store", zap.Int("archives", len(paths)), zap.Int("objects", s.Len()))
	return s, root, nil
}

// ensurePath returns the object at p below root, creating placeholders for
// missing levels.
func ensurePath(s *object.Space, root *object.Object, p string) (*object.Object, error) {
	cur := root
	for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
		if seg == "" {
			continue
		}
		next, err := s.Find(cur, "/"+seg)
		if errors.Is(err, object.ErrNotFound) {
			next, err = s.New(object.Base, seg)
			if err == nil {
				err = s.Attach(cur, next)
			}
		}
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}
