package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"eduitraya/internal/backup"
	"eduitraya/internal/core"
	"eduitraya/internal/export"
	"eduitraya/internal/qr"
	"eduitraya/internal/stats"
	"eduitraya/internal/views"
)

func runList(_ context.Context, e *env, args []string) error {
	fs := e.flags()
	search := fs.String("search", "", "only show names or notes containing `TEXT`")
	sortBy := fs.String("sort", "name", "sort by name, amount or date")
	order := fs.String("order", "asc", "asc or desc")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if _, err := parse(fs, args); err != nil {
		return err
	}

	field, err := views.ParseSortField(*sortBy)
	if err != nil {
		return err
	}
	ord, err := views.ParseOrder(*order)
	if err != nil {
		return err
	}
	list := views.Filter(e.app.Store.Recipients(), views.Query{Search: *search, SortBy: field, Order: ord})

	if *asJSON {
		enc := json.NewEncoder(e.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	if len(list) == 0 && strings.TrimSpace(*search) != "" {
		_, err := fmt.Fprintf(e.stdout, "No recipients match %q.\n", *search)
		return err
	}
	return views.Table(e.stdout, list)
}

func runAdd(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	name := fs.String("name", "", "recipient name")
	note := fs.String("note", "", "relationship or note")
	duitnow := fs.String("duitnow", "", "DuitNow id for payment QR codes")
	var amount moneyValue
	fs.Var(&amount, "amount", "amount in ringgit, e.g. 10.50")
	if _, err := parse(fs, args); err != nil {
		return err
	}

	in := core.RecipientInput{Name: *name, Amount: amount.m, Note: *note, DuitnowID: *duitnow}
	if err := in.Validate(); err != nil {
		return err
	}
	r, err := e.app.Store.Add(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, "Recipient added.")
	return views.Recipient(e.stdout, r)
}

func runUpdate(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	fs.String("name", "", "new name")
	fs.String("note", "", "new note")
	fs.String("duitnow", "", "new DuitNow id, empty to remove")
	var amount moneyValue
	fs.Var(&amount, "amount", "new amount in ringgit")
	positional, err := parse(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		fs.Usage()
		return errors.New("update needs exactly one recipient id")
	}

	var patch core.RecipientPatch
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "name":
			patch.Name = &v
		case "note":
			patch.Note = &v
		case "duitnow":
			patch.DuitnowID = &v
		case "amount":
			patch.Amount = &amount.m
		}
	})
	if patch.IsEmpty() {
		return errors.New("nothing to update: pass at least one of --name, --amount, --note, --duitnow")
	}
	if err := patch.Validate(); err != nil {
		return err
	}

	id, err := e.resolveID(positional[0])
	if err != nil {
		return err
	}
	r, found, err := e.app.Store.Update(ctx, id, patch)
	if err != nil {
		return err
	}
	if !found {
		_, err := fmt.Fprintf(e.stdout, "No recipient with id %s.\n", positional[0])
		return err
	}
	fmt.Fprintln(e.stdout, "Recipient updated.")
	return views.Recipient(e.stdout, r)
}

func runRemove(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	positional, err := parse(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		fs.Usage()
		return errors.New("remove needs exactly one recipient id")
	}

	id, err := e.resolveID(positional[0])
	if err != nil {
		return err
	}
	r, ok := e.app.Store.Find(id)
	if !ok {
		_, err := fmt.Fprintf(e.stdout, "No recipient with id %s.\n", positional[0])
		return err
	}
	if !*yes {
		ok, err := e.confirm(fmt.Sprintf("Are you sure you want to delete %s? This action cannot be undone.", r.Name))
		if err != nil || !ok {
			fmt.Fprintln(e.stdout, "Cancelled.")
			return err
		}
	}

	removed, err := e.app.Store.Remove(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		_, err := fmt.Fprintf(e.stdout, "No recipient with id %s.\n", positional[0])
		return err
	}
	_, err = fmt.Fprintf(e.stdout, "Deleted %s.\n", r.Name)
	return err
}

func runClear(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if _, err := parse(fs, args); err != nil {
		return err
	}

	n := e.app.Store.Len()
	if n == 0 {
		_, err := fmt.Fprintln(e.stdout, "Nothing to clear.")
		return err
	}
	if !*yes {
		ok, err := e.confirm(fmt.Sprintf("Are you sure you want to delete ALL %d recipients? This action cannot be undone.", n))
		if err != nil || !ok {
			fmt.Fprintln(e.stdout, "Cancelled.")
			return err
		}
	}
	if err := e.app.Store.ClearAll(ctx); err != nil {
		return err
	}
	_, err := fmt.Fprintln(e.stdout, "All data cleared.")
	return err
}

func runStats(_ context.Context, e *env, args []string) error {
	fs := e.flags()
	if _, err := parse(fs, args); err != nil {
		return err
	}
	now := e.now()
	return views.Dashboard(e.stdout, stats.Summarize(e.app.Store.Recipients(), now), now)
}

func runExport(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	formats := fs.String("format", "csv,xlsx,pdf", "comma separated formats: csv, xlsx (or excel), pdf")
	dir := fs.String("dir", e.app.Config.ExportDir, "output `DIR`")
	toSheets := fs.Bool("sheets", false, "also publish to the configured Google Sheets tab")
	toOffsite := fs.Bool("offsite", false, "also upload the files to the configured S3 bucket")
	if _, err := parse(fs, args); err != nil {
		return err
	}

	var selected []export.Format
	for _, name := range strings.Split(*formats, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		f, err := export.ParseFormat(name)
		if err != nil {
			return err
		}
		selected = append(selected, f)
	}

	list := e.app.Store.Snapshot()
	paths, err := e.app.Exporter().ExportAll(ctx, *dir, list, selected...)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintf(e.stdout, "Wrote %s\n", p)
	}

	if *toSheets {
		pub, err := e.app.SheetsPublisher(ctx)
		if err != nil {
			return err
		}
		if err := pub.Publish(ctx, export.NewTable(list, e.now())); err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "Published %d recipients to sheet %q\n", len(list), pub.Sheet())
	}

	if *toOffsite {
		if len(selected) == 0 {
			selected = []export.Format{export.CSV, export.XLSX, export.PDF}
		}
		for i, p := range paths {
			if err := e.upload(ctx, p, selected[i].ContentType()); err != nil {
				return err
			}
		}
	}
	return nil
}

func runBackup(ctx context.Context, e *env, args []string) error {
	now := e.now()
	fs := e.flags()
	out := fs.String("out", filepath.Join(e.app.Config.ExportDir, backup.FileName(now)), "backup `FILE`")
	toOffsite := fs.Bool("offsite", false, "also upload the backup to the configured S3 bucket")
	if _, err := parse(fs, args); err != nil {
		return err
	}

	doc := backup.New(e.app.Store.Snapshot(), now)
	if err := writeFileAtomic(*out, func(w io.Writer) error { return backup.Encode(w, doc) }); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	fmt.Fprintf(e.stdout, "Backup created: %s (%d recipients, %s)\n",
		*out, doc.Metadata.TotalRecipients, doc.Metadata.TotalAmount.Grouped())

	if *toOffsite {
		return e.upload(ctx, *out, "application/json")
	}
	return nil
}

func runRestore(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	fromOffsite := fs.Bool("offsite", false, "read the backup from the configured S3 bucket")
	latest := fs.Bool("latest", false, "with --offsite, pick the newest backup in the bucket")
	positional, err := parse(fs, args)
	if err != nil {
		return err
	}

	var (
		r      io.ReadCloser
		source string
	)
	switch {
	case *fromOffsite:
		if r, source, err = e.openOffsiteBackup(ctx, positional, *latest); err != nil {
			return err
		}
	case len(positional) == 1:
		source = positional[0]
		if r, err = os.Open(source); err != nil {
			return fmt.Errorf("open backup: %w", err)
		}
	default:
		fs.Usage()
		return errors.New("restore needs a backup file")
	}
	plan, err := backup.ParseAt(r, e.now())
	r.Close()
	for _, rej := range plan.Rejected {
		fmt.Fprintf(e.stdout, "Skipping %v\n", rej)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(e.stdout, "Backup %s: %d valid recipients", source, len(plan.Valid))
	if !plan.ExportDate.IsZero() {
		fmt.Fprintf(e.stdout, ", exported %s", plan.ExportDate.Local().Format(views.DateLayout))
	}
	fmt.Fprintln(e.stdout)

	if !*yes {
		ok, err := e.confirm(fmt.Sprintf(
			"This will replace your current data with %d recipients from the backup. Your existing data will be permanently lost. Continue?",
			len(plan.Valid)))
		if err != nil || !ok {
			fmt.Fprintln(e.stdout, "Cancelled.")
			return err
		}
	}
	if err := e.app.Store.Restore(ctx, plan.Valid); err != nil {
		return err
	}
	_, err = fmt.Fprintf(e.stdout, "Successfully restored %d recipients!\n", len(plan.Valid))
	return err
}

func runQR(_ context.Context, e *env, args []string) error {
	fs := e.flags()
	out := fs.String("out", "", "PNG `FILE` to write")
	caption := fs.Bool("caption", false, "print the name and amount under the code")
	duitnow := fs.String("duitnow", "", "make a DuitNow code for this id instead of a stored recipient")
	name := fs.String("name", "", "recipient name, with --duitnow")
	var amount moneyValue
	fs.Var(&amount, "amount", "amount in ringgit, with --duitnow")
	positional, err := parse(fs, args)
	if err != nil {
		return err
	}

	gen := e.app.QR(*caption)
	var (
		png  []byte
		path string
	)
	if *duitnow != "" {
		if !amount.set || strings.TrimSpace(*name) == "" {
			return errors.New("--duitnow needs --amount and --name")
		}
		if png, err = gen.DuitNowQR(*duitnow, amount.m, *name); err != nil {
			return err
		}
		path = "duitnow-" + fileSafe(*duitnow) + ".png"
	} else {
		if len(positional) != 1 {
			fs.Usage()
			return errors.New("qr needs a recipient id or --duitnow")
		}
		id, err := e.resolveID(positional[0])
		if err != nil {
			return err
		}
		rec, ok := e.app.Store.Find(id)
		if !ok {
			_, err := fmt.Fprintf(e.stdout, "No recipient with id %s.\n", positional[0])
			return err
		}
		png, err = gen.RecipientQR(rec)
		if errors.Is(err, qr.ErrMissingPaymentID) {
			return fmt.Errorf("%s has no DuitNow id; set one with 'eduit update %s --duitnow ID'", rec.Name, positional[0])
		}
		if err != nil {
			return err
		}
		path = "qr-" + fileSafe(rec.Name) + ".png"
	}

	if *out != "" {
		path = *out
	} else {
		path = filepath.Join(e.app.Config.ExportDir, path)
	}
	if err := writeFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(png)
		return err
	}); err != nil {
		return fmt.Errorf("write qr code: %w", err)
	}
	_, err = fmt.Fprintf(e.stdout, "Wrote %s\n", path)
	return err
}

func runQuickAdd(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	positional, err := parse(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		fmt.Fprintln(e.stdout, "Presets:")
		for _, p := range views.Presets {
			fmt.Fprintf(e.stdout, "  %-7s %s\n", p.Label(), p.Description)
		}
		return errors.New("quick-add needs a preset name or amount")
	}

	p, ok := views.FindPreset(positional[0])
	if !ok {
		return fmt.Errorf("unknown preset %q", positional[0])
	}
	r, err := views.QuickAdd(ctx, e.app.Store, p)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(e.stdout, "Quick added %s recipient %s (%s)\n", p.Description, r.Name, r.Amount.Label())
	return err
}

func runBulkAdd(ctx context.Context, e *env, args []string) error {
	fs := e.flags()
	count := fs.Int("count", 5, "number of recipients")
	amount := moneyValue{m: core.RM(20, 0), set: true}
	fs.Var(&amount, "amount", "amount per recipient in ringgit")
	if _, err := parse(fs, args); err != nil {
		return err
	}

	added, err := views.BulkAdd(ctx, e.app.Store, amount.m, *count)
	if err != nil {
		if len(added) > 0 {
			fmt.Fprintf(e.stdout, "Added %d of %d recipients before the failure.\n", len(added), *count)
		}
		return err
	}
	_, err = fmt.Fprintf(e.stdout, "Successfully added %d recipients for %s\n", len(added), core.Sum(added).Label())
	return err
}

func (e *env) upload(ctx context.Context, path, contentType string) error {
	store, err := e.app.Offsite(ctx)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	key, err := store.Upload(ctx, filepath.Base(path), f, contentType)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(e.stdout, "Uploaded s3://%s/%s\n", store.Bucket(), key)
	return err
}

func (e *env) openOffsiteBackup(ctx context.Context, positional []string, latest bool) (io.ReadCloser, string, error) {
	store, err := e.app.Offsite(ctx)
	if err != nil {
		return nil, "", err
	}
	var name string
	switch {
	case latest:
		objects, err := store.List(ctx, "eduit-raya-backup-")
		if err != nil {
			return nil, "", err
		}
		if len(objects) == 0 {
			return nil, "", errors.New("no backups in the bucket")
		}
		name = objects[0].Key
	case len(positional) == 1:
		name = positional[0]
	default:
		return nil, "", errors.New("restore --offsite needs a backup name or --latest")
	}
	r, err := store.Download(ctx, name)
	if err != nil {
		return nil, "", err
	}
	return r, "s3://" + store.Bucket() + "/" + name, nil
}

// fileSafe keeps letters, digits, dashes and underscores.
func fileSafe(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		}
		return -1
	}, strings.TrimSpace(s))
	if s == "" {
		return "recipient"
	}
	return strings.ToLower(s)
}
