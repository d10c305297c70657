// Package emu locates Super Mario Maker 2 save directories inside Yuzu
// and Ryujinx installations so users do not have to browse emulator
// internals by hand.
package emu

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/smmdb/smmdb-client/pkg/errors"
	"github.com/smmdb/smmdb-client/pkg/logging"
)

// GameID is the Switch title id of Super Mario Maker 2.
const GameID = "01009B90006DC000"

// Kind identifies a supported emulator.
type Kind string

// Supported emulators.
const (
	KindYuzu    Kind = "Yuzu"
	KindRyujinx Kind = "Ryujinx"
)

// SaveLocation is one discovered save directory a user can open.
type SaveLocation struct {
	DisplayName string
	Path        string
	Kind        Kind
}

var yuzuGuesses = []string{"yuzu", "yuzu-emu"}
var ryujinxGuesses = []string{"Ryujinx"}

// GuessSaveDirs scans the usual emulator install roots for save
// directories of the game. Missing roots are skipped silently; discovery
// never fails the caller, it just returns fewer candidates.
func GuessSaveDirs() []SaveLocation {
	return DiscoverIn(defaultRoots())
}

// DiscoverIn scans the given root directories for emulator installs and
// collects their save locations, deduplicated by resolved path.
func DiscoverIn(roots []string) []SaveLocation {
	var locations []SaveLocation
	seen := make(map[string]bool)

	for _, root := range roots {
		for _, guess := range yuzuGuesses {
			dir := filepath.Join(root, guess)
			if !IsYuzuDir(dir) {
				continue
			}
			for _, loc := range yuzuSaves(dir) {
				if !seen[loc.Path] {
					seen[loc.Path] = true
					locations = append(locations, loc)
				}
			}
		}
		for _, guess := range ryujinxGuesses {
			dir := filepath.Join(root, guess)
			if !IsRyujinxDir(dir) {
				continue
			}
			locs, err := ryujinxSaves(dir)
			if err != nil {
				logging.Warn().Err(err).Str("dir", dir).Msg("ryujinx save index unreadable")
				continue
			}
			for _, loc := range locs {
				if !seen[loc.Path] {
					seen[loc.Path] = true
					locations = append(locations, loc)
				}
			}
		}
	}
	return locations
}

// defaultRoots lists the per-platform directories emulators install under.
func defaultRoots() []string {
	var roots []string
	if dir, err := os.UserConfigDir(); err == nil {
		roots = append(roots, dir)
	}
	if dir, err := os.UserHomeDir(); err == nil {
		switch runtime.GOOS {
		case "windows":
			if local := os.Getenv("LOCALAPPDATA"); local != "" {
				roots = append(roots, local)
			}
		case "darwin":
			roots = append(roots, filepath.Join(dir, "Library", "Application Support"))
		default:
			roots = append(roots, filepath.Join(dir, ".local", "share"))
		}
	}
	return roots
}

// IsYuzuDir reports whether dir looks like a Yuzu data directory.
func IsYuzuDir(dir string) bool {
	return dirExists(filepath.Join(dir, "nand", "system")) &&
		dirExists(filepath.Join(dir, "keys"))
}

// IsRyujinxDir reports whether dir looks like a Ryujinx data directory.
func IsRyujinxDir(dir string) bool {
	return dirExists(filepath.Join(dir, "system")) &&
		fileExists(filepath.Join(dir, "Config.json"))
}

// yuzuSaves lists the game's save directories across all Yuzu user
// profiles. Yuzu keys saves by profile uid under a fixed system root.
func yuzuSaves(dir string) []SaveLocation {
	var locations []SaveLocation
	profileRoot := filepath.Join(dir, "nand", "user", "save", "0000000000000000")

	entries, err := os.ReadDir(profileRoot)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		savePath := filepath.Join(profileRoot, entry.Name(), GameID)
		if !dirExists(savePath) {
			continue
		}
		locations = append(locations, SaveLocation{
			DisplayName: fmt.Sprintf("[%s] %s", KindYuzu, dir),
			Path:        savePath,
			Kind:        KindYuzu,
		})
	}
	return locations
}

// Ryujinx save index format: a fixed 0xC file header, then fixed-size
// entries of a 0xC entry header followed by a 0x80 body. The body starts
// with the title id in reversed byte order; the save data id sits at
// body offset 0x40, also reversed.
const (
	imkvdbHeaderSize = 0xC
	imenHeaderSize   = 0xC
	imenBodySize     = 0x80
	saveDataIDOffset = 0x40
)

// ryujinxSaves resolves the game's save directories through the Ryujinx
// system save index (imkvdb.arc), which maps title ids to save data ids.
func ryujinxSaves(dir string) ([]SaveLocation, error) {
	indexPath := filepath.Join(dir, "bis", "system", "save", "8000000000000000", "0", "imkvdb.arc")
	buffer, err := os.ReadFile(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapIO("read", indexPath, err)
	}

	ids, err := saveDataIDs(buffer)
	if err != nil {
		return nil, errors.WrapParse("imkvdb", indexPath, err)
	}

	var locations []SaveLocation
	for _, id := range ids {
		savePath := filepath.Join(dir, "bis", "user", "save", id, "0")
		if !dirExists(savePath) {
			continue
		}
		locations = append(locations, SaveLocation{
			DisplayName: fmt.Sprintf("[%s] %s", KindRyujinx, dir),
			Path:        savePath,
			Kind:        KindRyujinx,
		})
	}
	return locations, nil
}

// saveDataIDs extracts the save data ids of all index entries matching
// the game's title id.
func saveDataIDs(buffer []byte) ([]string, error) {
	gameID, err := hex.DecodeString(GameID)
	if err != nil {
		return nil, err
	}
	// Entries store the title id little-endian.
	titleID := binary.BigEndian.Uint64(gameID)

	var ids []string
	entrySize := imenHeaderSize + imenBodySize
	for off := imkvdbHeaderSize; off+entrySize <= len(buffer); off += entrySize {
		body := buffer[off+imenHeaderSize : off+entrySize]
		if binary.LittleEndian.Uint64(body[:8]) != titleID {
			continue
		}
		rawID := reverse(body[saveDataIDOffset : saveDataIDOffset+8])
		ids = append(ids, hex.EncodeToString(rawID))
	}
	return ids, nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
