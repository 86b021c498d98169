package deps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"

	"github.com/vanbrabantf/sitebuild/pkg"
)

// ErrChecksum is returned when a download doesn't match the recorded sha256
var ErrChecksum = eris.New("checksum check failed")

// Options controls Fetch
type Options struct {
	// Update records new checksums in DEPS.yml instead of failing on a mismatch
	Update bool
	Client *http.Client
}

func getProgressBar(length int64, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

// Fetch downloads, verifies and unpacks every applicable dependency that isn't unpacked in the recorded version
// yet. Stamps are updated for every dependency that was unpacked, even if a later one fails.
func Fetch(ctx context.Context, projectRoot string, cfg *Config, stamps Stamps, opts Options) error {
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: time.Minute * 30,
		}
	}

	vars := PlatformVars()
	for name, value := range cfg.Vars {
		vars[name] = value
	}

	names := make([]string, 0, len(cfg.Deps))
	for name := range cfg.Deps {
		names = append(names, name)
	}
	sort.Strings(names)

	changes := map[string]string{}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}

		meta := cfg.Deps[name]
		// conditions are evaluated even when updating because they also resolve the URL placeholders
		skip := !EvalConditions(&meta, vars)
		if skip && !opts.Update {
			continue
		}

		destPath := filepath.Join(projectRoot, meta.Dest)
		_, err := os.Stat(destPath)
		destExists := err == nil

		if stamp, ok := stamps[name]; ok && stamp == meta.Token() && destExists && !opts.Update {
			continue
		}

		pkg.PrintSubtask(name + ":  " + meta.URL)
		if meta.Sha256 == "" && !opts.Update {
			return eris.Errorf("Dependency %s doesn't have a checksum", name)
		}

		digest, err := fetchOne(ctx, client, meta, destPath, destExists, skip, opts.Update)
		if err != nil {
			return eris.Wrapf(err, "Failed to fetch %s", name)
		}

		if digest != meta.Sha256 {
			fmt.Println("      Updating checksum")
			changes[name] = digest
			meta.Sha256 = digest
		}

		if !skip {
			stamps[name] = meta.Token()
		}
	}

	if opts.Update {
		pkg.PrintTask("Updating " + ConfigName)
		return cfg.UpdateChecksums(changes)
	}
	return nil
}

func fetchOne(ctx context.Context, client *http.Client, meta Spec, destPath string, destExists, skip, update bool) (string, error) {
	arHandle, err := os.CreateTemp("", "deps_dl_*.tmp")
	if err != nil {
		return "", eris.Wrap(err, "Failed to create temporary download file")
	}
	defer func() {
		arHandle.Close()
		os.Remove(arHandle.Name())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return "", eris.Wrapf(err, "Invalid URL %s", meta.URL)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", eris.Wrapf(err, "Failed to start download for %s", meta.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("Download of %s failed with status %s", meta.URL, resp.Status)
	}

	hash := sha256.New()
	bar := getProgressBar(resp.ContentLength, "     download")
	_, err = io.Copy(io.MultiWriter(arHandle, hash, bar), resp.Body)
	bar.Finish()
	if err != nil {
		return "", eris.Wrapf(err, "Failed during download of %s", meta.URL)
	}

	digest := hex.EncodeToString(hash.Sum(nil))
	if digest != meta.Sha256 && !update {
		return "", eris.Wrapf(ErrChecksum, "expected %s but got %s", meta.Sha256, digest)
	}

	if skip {
		return digest, nil
	}

	extractor, err := GetExtractor(meta.URL)
	if err != nil {
		return "", err
	}

	if destExists {
		pkg.PrintSubtask(fmt.Sprintf("Remove %s", destPath))
		err = os.RemoveAll(destPath)
		if err != nil {
			return "", eris.Wrapf(err, "Failed to remove %s", destPath)
		}
	}

	_, err = arHandle.Seek(0, io.SeekStart)
	if err != nil {
		return "", err
	}

	bar = getProgressBar(resp.ContentLength, "      extract")
	err = extractor(arHandle, bar, destPath, meta.Strip)
	bar.Finish()
	if err != nil {
		return "", err
	}

	if runtime.GOOS != "windows" {
		// .zip files don't carry permissions which means we have to manually fix permissions for binaries in .zip files
		for _, binPath := range meta.MarkExec {
			binPath = filepath.Join(destPath, binPath)
			fi, err := os.Stat(binPath)
			if err != nil {
				return "", eris.Wrapf(err, "Failed to read permissions for %s", binPath)
			}

			err = os.Chmod(binPath, fi.Mode()|0o700)
			if err != nil {
				return "", eris.Wrapf(err, "Failed to mark %s as executable", binPath)
			}
		}
	}

	return digest, nil
}
