// Command mkfs builds an on-disk filesystem image offline: it formats a
// fresh image of the requested size, then walks a host skeleton
// directory tree and replicates it into the image, exactly the role
// the teacher's mkfs/mkfs.go plays for biscuit (format, then
// addfiles/copydata a skeleton directory), generalized to this
// kernel's superblock layout instead of calling into ufs.MkDisk.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"riscvkern/defs"
	"riscvkern/diskdrv"
	"riscvkern/fs"
	"riscvkern/ustr"
)

const (
	nlogblks    = 1024
	ninodeblks  = 100 * 50
	nbitmapblks = 64
	ndatablks   = 40000
)

func main() {
	if len(os.Args) < 3 {
		fmt.Printf("usage: mkfs <image> <skeldir>\n")
		os.Exit(1)
	}
	image := os.Args[1]
	skeldir := os.Args[2]

	total := 2 + nlogblks + ninodeblks + nbitmapblks + ndatablks
	disk, err := diskdrv.Open(image, total)
	if err != nil {
		fmt.Printf("mkfs: %v\n", err)
		os.Exit(1)
	}

	fsys := fs.MkFS(1, disk, total, nlogblks, ninodeblks, nbitmapblks, true)
	root := fsys.Root()
	cwd := &fs.Cwd_t{Root: root, Cwd: root}

	addfiles(fsys, cwd, skeldir)

	if err := disk.Close(); err != nil {
		fmt.Printf("mkfs: %v\n", err)
		os.Exit(1)
	}
}

func addfiles(fsys *fs.Fs_t, cwd *fs.Cwd_t, skeldir string) {
	err := filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			fmt.Printf("mkfs: failed to access %q: %v\n", path, err)
			return err
		}
		rel := strings.TrimPrefix(path, skeldir)
		if rel == "" {
			return nil
		}
		rel = "/" + strings.TrimPrefix(rel, "/")

		if d.IsDir() {
			if e := fsys.Fs_mkdir(ustr.Ustr(rel), 0, cwd); e != 0 {
				fmt.Printf("mkfs: failed to create dir %v: %v\n", rel, e)
			}
			return nil
		}
		copyfile(fsys, cwd, path, rel)
		return nil
	})
	if err != nil {
		fmt.Printf("mkfs: error walking %q: %v\n", skeldir, err)
		os.Exit(1)
	}
}

func copyfile(fsys *fs.Fs_t, cwd *fs.Cwd_t, src, dst string) {
	srcFile, err := os.Open(src)
	if err != nil {
		panic(err)
	}
	defer srcFile.Close()

	ip, e := fsys.Fs_open(ustr.Ustr(dst), defs.O_CREAT, 0, cwd)
	if e != 0 {
		fmt.Printf("mkfs: failed to create file %v: %v\n", dst, e)
		return
	}
	defer fsys.Fs_evict(ip)

	buf := make([]byte, 4096)
	off := 0
	for {
		n, readErr := srcFile.Read(buf)
		if readErr != nil && readErr != io.EOF {
			panic(readErr)
		}
		if n > 0 {
			fsys.BeginOp()
			fsys.Write(ip, buf[:n], off)
			fsys.EndOp()
			off += n
		}
		if readErr == io.EOF {
			break
		}
	}
}
