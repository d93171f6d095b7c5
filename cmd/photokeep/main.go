/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"photokeep/internal/config"
	"photokeep/internal/crash"
	"photokeep/internal/domain"
	"photokeep/internal/export"
	applog "photokeep/internal/log"
	"photokeep/internal/mirror"
	"photokeep/internal/service"
	"photokeep/internal/store"
	"photokeep/internal/version"
)

func usage() {
	fmt.Println("PhotoKeep — personal photo archive store")
	fmt.Printf("Version: %s\n", version.String())
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  photokeep version|-v|--version                         Show version")
	fmt.Println("  photokeep projects                                     List projects")
	fmt.Println("  photokeep project create <name> [description]          Create a project")
	fmt.Println("  photokeep project delete <id>                          Delete a project and its photos")
	fmt.Println("  photokeep photos <project-id> [oldest-first]           List a project's photos")
	fmt.Println("  photokeep add <project-id> <file> [caption]            Add a photo (original date from file mtime)")
	fmt.Println("  photokeep delete <photo-id>                            Delete a photo")
	fmt.Println("  photokeep search <query>                               Full-text search over captions")
	fmt.Println("  photokeep export <file.zip>                            Export the whole store to an archive")
	fmt.Println("  photokeep import <file.zip>                            Replace the store with an archive's content")
	fmt.Println("  photokeep pdf <project-id> <file.pdf>                  Render a contact sheet PDF")
	fmt.Println("  photokeep mirror push                                  Push metadata to the configured Postgres mirror")
	fmt.Println()
	fmt.Println("The store root comes from the config file or PK_STORE_ROOT.")
}

func main() {
	applog.Init(applog.FromEnv())
	l := applog.WithComponent("cli")
	var storeRoot string
	defer func() { crash.Recover(storeRoot) }()

	args := os.Args
	if len(args) < 2 {
		usage()
		return
	}
	switch args[1] {
	case "version", "--version", "-v":
		fmt.Println(version.String())
		return
	}

	cfg, secret, err := config.Load()
	if err != nil {
		fail(l, "load config", err)
	}
	storeRoot = cfg.Store.Root
	if storeRoot == "" {
		fmt.Println("No store root configured. Set store.root in the config file or PK_STORE_ROOT.")
		os.Exit(2)
	}
	st, err := store.Open(storeRoot)
	if err != nil {
		fail(l, "open store", err)
	}
	defer func() { _ = st.Close() }()
	svc := service.New(st)
	ctx := context.Background()

	switch args[1] {
	case "projects":
		ps, err := svc.ListProjects(ctx)
		if err != nil {
			fail(l, "list projects", err)
		}
		for _, p := range ps {
			fmt.Printf("%d\t%s\t%s\t%s\n", p.ID, p.Name, p.CreatedAt.Format("2006-01-02"), p.Description)
		}
	case "project":
		if len(args) < 3 {
			usage()
			os.Exit(2)
		}
		switch args[2] {
		case "create":
			if len(args) < 4 {
				fmt.Println("project create requires <name>")
				os.Exit(2)
			}
			desc := ""
			if len(args) > 4 {
				desc = args[4]
			}
			p, err := svc.CreateProject(ctx, args[3], desc)
			if err != nil {
				fail(l, "create project", err)
			}
			fmt.Printf("Created project %d (%s)\n", p.ID, p.Name)
		case "delete":
			id := parseID(args, 3, "project delete requires <id>")
			if err := svc.DeleteProject(ctx, id); err != nil {
				fail(l, "delete project", err)
			}
			fmt.Printf("Deleted project %d\n", id)
		default:
			usage()
			os.Exit(2)
		}
	case "photos":
		id := parseID(args, 2, "photos requires <project-id>")
		order := domain.NewestFirst
		if len(args) > 3 && args[3] == "oldest-first" {
			order = domain.OldestFirst
		}
		phs, err := svc.ListPhotos(ctx, id, order)
		if err != nil {
			fail(l, "list photos", err)
		}
		for _, p := range phs {
			fmt.Printf("%d\t%s\t%s\t%s\n", p.ID, p.OriginalDate.Format("2006-01-02"), p.AssetID, p.Caption)
		}
	case "add":
		id := parseID(args, 2, "add requires <project-id> and <file>")
		if len(args) < 4 {
			fmt.Println("add requires <project-id> and <file>")
			os.Exit(2)
		}
		content, err := os.ReadFile(args[3])
		if err != nil {
			fail(l, "read photo file", err)
		}
		origDate := time.Now().UTC()
		if fi, err := os.Stat(args[3]); err == nil {
			origDate = fi.ModTime().UTC()
		}
		caption := ""
		if len(args) > 4 {
			caption = args[4]
		}
		ph, err := svc.AddPhoto(ctx, id, content, origDate, caption)
		if err != nil {
			fail(l, "add photo", err)
		}
		fmt.Printf("Added photo %d (asset %s)\n", ph.ID, ph.AssetID)
	case "delete":
		id := parseID(args, 2, "delete requires <photo-id>")
		if err := svc.DeletePhoto(ctx, id); err != nil {
			fail(l, "delete photo", err)
		}
		fmt.Printf("Deleted photo %d\n", id)
	case "search":
		if len(args) < 3 {
			fmt.Println("search requires <query>")
			os.Exit(2)
		}
		hits, err := svc.SearchCaptions(ctx, args[2], 50)
		if err != nil {
			fail(l, "search", err)
		}
		for _, h := range hits {
			fmt.Printf("%d\t%s\n", h.PhotoID, h.Snippet)
		}
	case "export":
		if len(args) < 3 {
			fmt.Println("export requires <file.zip>")
			os.Exit(2)
		}
		out, err := os.Create(args[2])
		if err != nil {
			fail(l, "create archive file", err)
		}
		if err := svc.Export(ctx, out); err != nil {
			_ = out.Close()
			fail(l, "export", err)
		}
		if err := out.Close(); err != nil {
			fail(l, "close archive file", err)
		}
		abs, _ := filepath.Abs(args[2])
		fmt.Println("Exported archive to", abs)
	case "import":
		if len(args) < 3 {
			fmt.Println("import requires <file.zip>")
			os.Exit(2)
		}
		in, err := os.Open(args[2])
		if err != nil {
			fail(l, "open archive file", err)
		}
		err = svc.Import(ctx, in)
		_ = in.Close()
		if err != nil {
			fail(l, "import", err)
		}
		fmt.Println("Store restored from archive. Generation:", st.Generation())
	case "pdf":
		id := parseID(args, 2, "pdf requires <project-id> and <file.pdf>")
		if len(args) < 4 {
			fmt.Println("pdf requires <project-id> and <file.pdf>")
			os.Exit(2)
		}
		p, err := svc.GetProject(ctx, id)
		if err != nil {
			fail(l, "load project", err)
		}
		phs, err := svc.ListPhotos(ctx, id, domain.OldestFirst)
		if err != nil {
			fail(l, "list photos", err)
		}
		out, err := os.Create(args[3])
		if err != nil {
			fail(l, "create pdf file", err)
		}
		err = export.WriteContactSheet(out, p, phs, st.Blobs().Get, export.ContactSheetOptions{})
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			fail(l, "write contact sheet", err)
		}
		fmt.Println("Wrote contact sheet", args[3])
	case "mirror":
		if len(args) < 3 || args[2] != "push" {
			usage()
			os.Exit(2)
		}
		if !cfg.Mirror.Enabled || cfg.Mirror.DSN == "" {
			fmt.Println("Mirror is not configured. Set mirror.enabled and mirror.dsn (password via keyring).")
			os.Exit(2)
		}
		if secret != "" {
			// Password from the OS keyring, for DSNs that omit it.
			_ = os.Setenv("PGPASSWORD", secret)
		}
		m, err := mirror.Open(ctx, cfg.Mirror.DSN)
		if err != nil {
			fail(l, "open mirror", err)
		}
		defer func() { _ = m.Close() }()
		projects, photos, err := st.Snapshot(ctx)
		if err != nil {
			fail(l, "snapshot", err)
		}
		if err := m.Push(ctx, projects, photos); err != nil {
			fail(l, "mirror push", err)
		}
		fmt.Printf("Pushed %d projects and %d photos to the mirror\n", len(projects), len(photos))
	default:
		usage()
		os.Exit(2)
	}
}

func parseID(args []string, idx int, msg string) int64 {
	if len(args) <= idx {
		fmt.Println(msg)
		os.Exit(2)
	}
	id, err := strconv.ParseInt(args[idx], 10, 64)
	if err != nil {
		fmt.Println("invalid id:", args[idx])
		os.Exit(2)
	}
	return id
}

func fail(l *slog.Logger, what string, err error) {
	l.Error(what+" failed", slog.Any("err", err))
	fmt.Println("Error:", err)
	os.Exit(1)
}
