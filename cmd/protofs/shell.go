package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"github.com/google/uuid"
	"github.com/sisatech/tablewriter"
	"github.com/spf13/cobra"
	"github.com/thanhpk/randstr"

	"github.com/kotazzz/protoext4"
	"github.com/kotazzz/protoext4/filesystem"
	"github.com/kotazzz/protoext4/filesystem/protofs"
)

var shellCmd = &cobra.Command{
	Use:   "shell IMAGE",
	Short: "Interactively browse and modify an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		fs, err := protoext4.Open(args[0])
		if err != nil {
			return err
		}
		defer fs.Close()

		return runShell(fs, os.Stdin, os.Stdout)
	},
}

func runShell(fs *protofs.FileSystem, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s> ", fs.Getcwd())
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			return nil
		}
		if err := runShellCommand(fs, out, fields[0], fields[1:]); err != nil {
			fmt.Fprintf(out, "%s: %v\n", fields[0], err)
		}
	}
}

//nolint:gocyclo // a command dispatcher is one long switch by nature
func runShellCommand(fs *protofs.FileSystem, out io.Writer, cmd string, args []string) error {
	switch cmd {
	case "help":
		fmt.Fprintln(out, "commands: ls [-l] [PATH], cd PATH, pwd, mkdir PATH, rmdir PATH, rm [-r] PATH,")
		fmt.Fprintln(out, "  cat PATH, write PATH TEXT..., append PATH TEXT..., truncate PATH SIZE,")
		fmt.Fprintln(out, "  ln [-s] TARGET LINK, readlink PATH, stat PATH, lstat PATH, chmod MODE PATH,")
		fmt.Fprintln(out, "  gen [DIR] [SIZE], df, help, exit")
		return nil
	case "pwd":
		fmt.Fprintln(out, fs.Getcwd())
		return nil
	case "cd":
		if len(args) != 1 {
			return fmt.Errorf("usage: cd PATH")
		}
		return fs.Chdir(args[0])
	case "ls":
		long := false
		if len(args) > 0 && args[0] == "-l" {
			long = true
			args = args[1:]
		}
		p := "."
		if len(args) > 0 {
			p = args[0]
		}
		return shellLs(fs, out, p, long)
	case "mkdir":
		if len(args) != 1 {
			return fmt.Errorf("usage: mkdir PATH")
		}
		return fs.Mkdir(args[0], 0o755)
	case "rmdir":
		if len(args) != 1 {
			return fmt.Errorf("usage: rmdir PATH")
		}
		return fs.Rmdir(args[0])
	case "rm":
		if len(args) == 2 && args[0] == "-r" {
			return fs.RmdirRecursive(args[1])
		}
		if len(args) != 1 {
			return fmt.Errorf("usage: rm [-r] PATH")
		}
		return fs.Unlink(args[0])
	case "cat":
		if len(args) != 1 {
			return fmt.Errorf("usage: cat PATH")
		}
		return shellCat(fs, out, args[0])
	case "write", "append":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s PATH TEXT...", cmd)
		}
		return shellWrite(fs, args[0], strings.Join(args[1:], " "), cmd == "append")
	case "truncate":
		if len(args) != 2 {
			return fmt.Errorf("usage: truncate PATH SIZE")
		}
		size, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid size %q", args[1])
		}
		return fs.Truncate(args[0], size)
	case "ln":
		if len(args) == 3 && args[0] == "-s" {
			return fs.Symlink(args[1], args[2])
		}
		if len(args) != 2 {
			return fmt.Errorf("usage: ln [-s] TARGET LINK")
		}
		return fs.Link(args[0], args[1])
	case "readlink":
		if len(args) != 1 {
			return fmt.Errorf("usage: readlink PATH")
		}
		target, err := fs.Readlink(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, target)
		return nil
	case "stat", "lstat":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s PATH", cmd)
		}
		return shellStat(fs, out, args[0], cmd == "stat")
	case "chmod":
		if len(args) != 2 {
			return fmt.Errorf("usage: chmod MODE PATH")
		}
		mode, err := strconv.ParseUint(args[0], 8, 32)
		if err != nil {
			return fmt.Errorf("invalid mode %q", args[0])
		}
		return fs.Chmod(args[1], os.FileMode(mode))
	case "gen":
		return shellGen(fs, out, args)
	case "df":
		printDf(fs.Df())
		return nil
	default:
		return fmt.Errorf("unknown command, try help")
	}
}

func shellLs(fs *protofs.FileSystem, out io.Writer, p string, long bool) error {
	infos, err := fs.ReadDir(p)
	if err != nil {
		return err
	}
	if !long {
		for _, info := range infos {
			fmt.Fprintln(out, info.Name())
		}
		return nil
	}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Mode", "Links", "Inode", "Size", "Modified", "Name"})
	for _, info := range infos {
		st := info.Sys().(*protofs.Stat)
		name := info.Name()
		if info.Mode()&os.ModeSymlink != 0 {
			if target, err := fs.Readlink(p + "/" + name); err == nil {
				name += " -> " + target
			}
		}
		table.Append([]string{
			info.Mode().String(),
			fmt.Sprintf("%d", st.Links),
			fmt.Sprintf("%d", st.Inode),
			bytefmt.ByteSize(uint64(info.Size())),
			info.ModTime().Format("Jan _2 15:04"),
			name,
		})
	}
	table.Render()
	return nil
}

func shellCat(fs *protofs.FileSystem, out io.Writer, p string) error {
	f, err := fs.OpenStream(p, filesystem.OpenReadOnly, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(out, f)
	return err
}

func shellWrite(fs *protofs.FileSystem, p, text string, appendTo bool) error {
	flags := filesystem.OpenCreate | filesystem.OpenReadWrite
	if !appendTo {
		flags |= filesystem.OpenTruncate
	}
	f, err := fs.OpenStream(p, flags, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if appendTo {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return err
		}
	}
	_, err = f.Write([]byte(text + "\n"))
	return err
}

func shellStat(fs *protofs.FileSystem, out io.Writer, p string, follow bool) error {
	var (
		info os.FileInfo
		err  error
	)
	if follow {
		info, err = fs.Stat(p)
	} else {
		info, err = fs.Lstat(p)
	}
	if err != nil {
		return err
	}
	st := info.Sys().(*protofs.Stat)
	fmt.Fprintf(out, "  File: %s\n", info.Name())
	fmt.Fprintf(out, "  Size: %d\tInode: %d\tLinks: %d\n", info.Size(), st.Inode, st.Links)
	fmt.Fprintf(out, "  Mode: %s\tUid: %d\tGid: %d\n", info.Mode(), st.UID, st.GID)
	fmt.Fprintf(out, "Modify: %s\n", info.ModTime())
	fmt.Fprintf(out, "Change: %s\n", st.Ctime)
	return nil
}

// shellGen drop a randomly named file of random bytes, for exercising the
// allocator from the shell
func shellGen(fs *protofs.FileSystem, out io.Writer, args []string) error {
	dir := "."
	size := uint64(16 * 1024)
	if len(args) > 0 {
		dir = args[0]
	}
	if len(args) > 1 {
		var err error
		size, err = bytefmt.ToBytes(args[1])
		if err != nil {
			return fmt.Errorf("invalid size %q", args[1])
		}
	}
	name := dir + "/gen-" + uuid.New().String()[:8]
	f, err := fs.OpenStream(name, filesystem.OpenCreate|filesystem.OpenReadWrite, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	for remaining := size; remaining > 0; {
		chunk := remaining
		if chunk > 64*1024 {
			chunk = 64 * 1024
		}
		if _, err := f.Write(randstr.Bytes(int(chunk))); err != nil {
			return err
		}
		remaining -= chunk
	}
	fmt.Fprintf(out, "%s (%s)\n", name, bytefmt.ByteSize(size))
	return nil
}

func printDf(du protofs.DiskUsage) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"", "Total", "Free", "Used"})
	table.Append([]string{
		"Blocks",
		fmt.Sprintf("%d", du.TotalBlocks),
		fmt.Sprintf("%d", du.FreeBlocks),
		fmt.Sprintf("%d", du.TotalBlocks-du.FreeBlocks),
	})
	table.Append([]string{
		"Inodes",
		fmt.Sprintf("%d", du.TotalInodes),
		fmt.Sprintf("%d", du.FreeInodes),
		fmt.Sprintf("%d", du.TotalInodes-du.FreeInodes),
	})
	table.Append([]string{
		"Bytes",
		bytefmt.ByteSize(du.TotalBlocks * uint64(du.BlockSize)),
		bytefmt.ByteSize(du.FreeBlocks * uint64(du.BlockSize)),
		bytefmt.ByteSize((du.TotalBlocks - du.FreeBlocks) * uint64(du.BlockSize)),
	})
	table.Render()
}
