package trial

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"aqmap-bk/internal/pkg/response"
)

const previewRows = 100

const samplesSuffix = "_samples.csv"

// FieldFile describes one sampled field's data file within a trial directory.
type FieldFile struct {
	Field     string `json:"field"`
	File      string `json:"file"`
	SizeBytes int64  `json:"size_bytes"`
}

// CompletedTrial is one trial directory that holds at least one samples file.
type CompletedTrial struct {
	TrialID int         `json:"trial_id"`
	Fields  []FieldFile `json:"fields"`
}

// sampleFiles walks a trial directory for per-field samples files.
func sampleFiles(dir string) []FieldFile {
	var out []FieldFile
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), samplesSuffix) {
			return err
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = d.Name()
		}
		out = append(out, FieldFile{
			Field:     strings.TrimSuffix(d.Name(), samplesSuffix),
			File:      filepath.ToSlash(rel),
			SizeBytes: info.Size(),
		})
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// HandlerCompletedTrials lists trial directories holding sample data, sorted
// by trial id.
//
// @Summary 列出已完成采样的试验
// @Description 扫描数据目录下的 trial_* 目录, 返回每个试验已采样字段的文件与大小.
// @Tags 试验数据
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/trials/completed [get]
func (rt *Router) HandlerCompletedTrials(c *gin.Context) {
	entries, err := os.ReadDir(rt.fleet.BaseDataDir())
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, response.Response{Results: gin.H{"trials": []CompletedTrial{}}})
			return
		}
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "failed to scan data dir: " + err.Error()})
		return
	}

	trials := make([]CompletedTrial, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		suffix, found := strings.CutPrefix(e.Name(), "trial_")
		if !found {
			continue
		}
		id, convErr := strconv.Atoi(suffix)
		if convErr != nil {
			continue
		}
		fields := sampleFiles(filepath.Join(rt.fleet.BaseDataDir(), e.Name()))
		if len(fields) == 0 {
			continue
		}
		trials = append(trials, CompletedTrial{TrialID: id, Fields: fields})
	}
	sort.Slice(trials, func(i, j int) bool { return trials[i].TrialID < trials[j].TrialID })
	c.JSON(http.StatusOK, response.Response{Results: gin.H{"trials": trials, "count": len(trials)}})
}

// HandlerTrialData previews a field's sample data, header plus at most 100
// rows, so the dashboard can inspect without downloading.
//
// @Summary 预览试验采样数据
// @Tags 试验数据
// @Produce json
// @Param id path int true "试验编号"
// @Param field query string false "字段名" default(radial)
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/trial/{id}/data [get]
func (rt *Router) HandlerTrialData(c *gin.Context) {
	id, ok := trialID(c)
	if !ok {
		return
	}
	field := c.DefaultQuery("field", "radial")

	var path string
	for _, ff := range sampleFiles(rt.fleet.DataDir(id)) {
		if ff.Field == field {
			path = filepath.Join(rt.fleet.DataDir(id), filepath.FromSlash(ff.File))
			break
		}
	}
	if path == "" {
		c.JSON(http.StatusNotFound, response.Response{Detail: fmt.Sprintf("no %s samples for trial %d", field, id)})
		return
	}

	f, err := os.Open(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "failed to read samples: " + err.Error()})
		return
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rd.FieldsPerRecord = -1
	header, err := rd.Read()
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "failed to parse samples: " + err.Error()})
		return
	}
	rows := make([][]string, 0, previewRows)
	truncated := false
	for {
		row, readErr := rd.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			c.JSON(http.StatusInternalServerError, response.Response{Detail: "failed to parse samples: " + readErr.Error()})
			return
		}
		if len(rows) == previewRows {
			truncated = true
			break
		}
		rows = append(rows, row)
	}

	c.JSON(http.StatusOK, response.Response{Results: gin.H{
		"trial_id":  id,
		"field":     field,
		"columns":   header,
		"rows":      rows,
		"truncated": truncated,
	}})
}

// HandlerDownloadTrial streams the trial data directory as a zip archive.
//
// @Summary 下载试验数据
// @Tags 试验数据
// @Produce application/zip
// @Param id path int true "试验编号"
// @Success 200 {file} binary
// @Failure 404 {object} response.Response
// @Router /api/v1/download/{id} [get]
func (rt *Router) HandlerDownloadTrial(c *gin.Context) {
	id, ok := trialID(c)
	if !ok {
		return
	}
	root := rt.fleet.DataDir(id)
	if _, err := os.Stat(root); err != nil {
		c.JSON(http.StatusNotFound, response.Response{Detail: "no data for trial " + c.Param("id")})
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="trial_%d.zip"`, id))

	zw := zip.NewWriter(c.Writer)
	defer zw.Close()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		w, createErr := zw.Create(filepath.ToSlash(rel))
		if createErr != nil {
			return createErr
		}
		f, openErr := os.Open(path)
		if openErr != nil {
			return openErr
		}
		defer f.Close()
		_, copyErr := io.Copy(w, f)
		return copyErr
	})
	if err != nil {
		// headers already sent; log and let the truncated archive surface it
		rt.logger.Error("trial archive streaming failed", "trial", id, "err", err)
	}
}

// HandlerDeleteData deletes a trial's sample data and reconstruction results.
// Partial failure is reported, not hidden: each failed step lands in errors
// while the rest proceeds.
//
// @Summary 删除试验数据
// @Description 删除采样数据目录与重建结果目录, 并终止进行中的重建进程; 逐项报告成功与失败.
// @Tags 试验数据
// @Produce json
// @Param id path int true "试验编号"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/trial/{id}/data [delete]
func (rt *Router) HandlerDeleteData(c *gin.Context) {
	id, ok := trialID(c)
	if !ok {
		return
	}

	dataDir := rt.fleet.DataDir(id)
	resultsDir := rt.recon.ResultsDir(id)
	_, dataErr := os.Stat(dataDir)
	_, resultsErr := os.Stat(resultsDir)
	if dataErr != nil && resultsErr != nil {
		c.JSON(http.StatusNotFound, response.Response{Detail: "no data for trial " + c.Param("id")})
		return
	}

	deleted := []string{}
	errs := []string{}

	if rt.recon.Kill(id) {
		deleted = append(deleted, "reconstruction process")
	}
	if dataErr == nil {
		if err := os.RemoveAll(dataDir); err != nil {
			errs = append(errs, "sample data: "+err.Error())
		} else {
			deleted = append(deleted, "sample data")
		}
	}
	if resultsErr == nil {
		if err := os.RemoveAll(resultsDir); err != nil {
			errs = append(errs, "reconstruction results: "+err.Error())
		} else {
			deleted = append(deleted, "reconstruction results")
		}
	}

	c.JSON(http.StatusOK, response.Response{Results: gin.H{
		"trial_id": id,
		"success":  len(errs) == 0,
		"deleted":  deleted,
		"errors":   errs,
	}})
}
