package jobfile

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/sunrenjie/youtube-dl/internal/fetch"
)

// File 是 YAML 任务文件的结构：
//
//	headers:
//	  - "Referer: https://example.com/"
//	jobs:
//	  - url: https://example.com/seg-1.ts
//	    headers: ["Range: bytes=0-"]
type File struct {
	Headers []string `yaml:"headers"`
	Jobs    []Entry  `yaml:"jobs"`
}

// Entry 是任务文件中的单个任务。
type Entry struct {
	URL     string   `yaml:"url"`
	Headers []string `yaml:"headers"`
}

// Load 读取并解析 YAML 任务文件。
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取任务文件失败: %w", err)
	}
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("解析任务文件失败: %w", err)
	}
	return &file, nil
}

// Builder 把公共请求头与每个任务的请求头合并为 fetch.Job。
type Builder struct {
	// Headers 是所有任务共享的请求头行（配置文件 + 任务文件）。
	Headers   []string
	UserAgent string
	Logger    logrus.FieldLogger
}

// FromURLs 为命令行传入的 URL 构建任务。
func (b Builder) FromURLs(urls []string) ([]fetch.Job, error) {
	entries := make([]Entry, 0, len(urls))
	for _, url := range urls {
		entries = append(entries, Entry{URL: url})
	}
	return b.build(nil, entries)
}

// FromFile 为任务文件中的条目构建任务；文件级 headers 位于 Builder.Headers 之后。
func (b Builder) FromFile(file *File) ([]fetch.Job, error) {
	return b.build(file.Headers, file.Jobs)
}

func (b Builder) build(extra []string, entries []Entry) ([]fetch.Job, error) {
	shared := make([]string, 0, len(b.Headers)+len(extra))
	shared = append(shared, b.Headers...)
	shared = append(shared, extra...)

	jobs := make([]fetch.Job, 0, len(entries))
	for i, entry := range entries {
		lines := make([]string, 0, len(shared)+len(entry.Headers))
		lines = append(lines, shared...)
		lines = append(lines, entry.Headers...)
		headers, err := ParseHeaders(lines, b.UserAgent, b.Logger)
		if err != nil {
			return nil, fmt.Errorf("任务 %d (%s): %w", i, entry.URL, err)
		}
		jobs = append(jobs, fetch.Job{URL: entry.URL, Headers: headers})
	}
	return jobs, nil
}
