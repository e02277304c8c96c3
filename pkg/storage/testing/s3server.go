package testing

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const s3Namespace = "http://s3.amazonaws.com/doc/2006-03-01/"

// S3Server is an in-process fake of the S3 REST API, covering the calls the
// cloud drivers make: bucket head/create/list, object put/get/head/delete,
// server-side copy, multi-object delete and multipart uploads.
//
// It only serves path-style requests and does not verify signatures.
// Payloads sent with the aws-chunked encoding (minio-go streaming
// signatures, trailing checksums) are decoded before they are stored.
type S3Server struct {
	*httptest.Server

	mu        sync.Mutex
	buckets   map[string]map[string]*fakeObject
	uploads   map[string]*fakeUpload
	nextID    int
	completed int
}

type fakeObject struct {
	data        []byte
	contentType string
	etag        string
	modified    time.Time
}

type fakeUpload struct {
	bucket      string
	key         string
	contentType string
	parts       map[int][]byte
}

// NewS3Server starts a fake with the given buckets. It is closed when the
// test ends.
func NewS3Server(t *testing.T, buckets ...string) *S3Server {
	t.Helper()
	s := &S3Server{
		buckets: make(map[string]map[string]*fakeObject),
		uploads: make(map[string]*fakeUpload),
	}
	for _, b := range buckets {
		s.buckets[b] = make(map[string]*fakeObject)
	}
	s.Server = httptest.NewServer(s)
	t.Cleanup(s.Close)
	return s
}

// Host returns host:port of the server, for clients taking an endpoint
// without scheme.
func (s *S3Server) Host() string {
	return strings.TrimPrefix(s.URL, "http://")
}

// HasBucket reports whether bucket exists.
func (s *S3Server) HasBucket(bucket string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[bucket]
	return ok
}

// Keys returns the object keys of bucket, sorted.
func (s *S3Server) Keys(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.buckets[bucket])
}

// CompletedMultipartUploads counts successful CompleteMultipartUpload calls.
func (s *S3Server) CompletedMultipartUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// PendingMultipartUploads counts uploads neither completed nor aborted.
func (s *S3Server) PendingMultipartUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

func (s *S3Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("x-amz-request-id", strconv.FormatInt(time.Now().UnixNano(), 36))

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket == "" {
		writeS3Error(w, r, http.StatusBadRequest, "InvalidBucketName", "bucket is required")
		return
	}
	if key == "" {
		s.serveBucket(w, r, bucket)
		return
	}
	s.serveObject(w, r, bucket, key)
}

// ============================================================================
// Bucket operations
// ============================================================================

func (s *S3Server) serveBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	q := r.URL.Query()

	if r.Method == http.MethodPut {
		s.mu.Lock()
		if _, ok := s.buckets[bucket]; !ok {
			s.buckets[bucket] = make(map[string]*fakeObject)
		}
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		return
	}

	if !s.HasBucket(bucket) {
		writeS3Error(w, r, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
		return
	}

	switch {
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && q.Has("location"):
		writeXML(w, http.StatusOK, struct {
			XMLName xml.Name `xml:"LocationConstraint"`
		}{})
	case r.Method == http.MethodGet:
		s.listObjects(w, bucket, q)
	case r.Method == http.MethodPost && q.Has("delete"):
		s.deleteObjects(w, r, bucket)
	default:
		writeS3Error(w, r, http.StatusNotImplemented, "NotImplemented", r.Method+" on bucket is not supported")
	}
}

type listEntry struct {
	Key          string
	LastModified string
	ETag         string
	Size         int64
	StorageClass string
}

type listBucketResult struct {
	XMLName               xml.Name `xml:"ListBucketResult"`
	Xmlns                 string   `xml:"xmlns,attr"`
	Name                  string
	Prefix                string
	KeyCount              int
	MaxKeys               int
	IsTruncated           bool
	ContinuationToken     string `xml:",omitempty"`
	NextContinuationToken string `xml:",omitempty"`
	Contents              []listEntry
}

func (s *S3Server) listObjects(w http.ResponseWriter, bucket string, q url.Values) {
	prefix := q.Get("prefix")
	maxKeys := 1000
	if n, err := strconv.Atoi(q.Get("max-keys")); err == nil && n > 0 && n < maxKeys {
		maxKeys = n
	}
	after := q.Get("continuation-token")
	if after == "" {
		after = q.Get("start-after")
	}

	s.mu.Lock()
	objects := s.buckets[bucket]
	var matched []string
	for _, k := range sortedKeys(objects) {
		if strings.HasPrefix(k, prefix) && k > after {
			matched = append(matched, k)
		}
	}

	result := listBucketResult{
		Xmlns:             s3Namespace,
		Name:              bucket,
		Prefix:            prefix,
		MaxKeys:           maxKeys,
		ContinuationToken: q.Get("continuation-token"),
	}
	if len(matched) > maxKeys {
		matched = matched[:maxKeys]
		result.IsTruncated = true
		result.NextContinuationToken = matched[len(matched)-1]
	}
	for _, k := range matched {
		obj := objects[k]
		result.Contents = append(result.Contents, listEntry{
			Key:          k,
			LastModified: obj.modified.UTC().Format("2006-01-02T15:04:05.000Z"),
			ETag:         obj.etag,
			Size:         int64(len(obj.data)),
			StorageClass: "STANDARD",
		})
	}
	result.KeyCount = len(result.Contents)
	s.mu.Unlock()

	writeXML(w, http.StatusOK, result)
}

func (s *S3Server) deleteObjects(w http.ResponseWriter, r *http.Request, bucket string) {
	var req struct {
		Quiet   bool
		Objects []struct {
			Key string
		} `xml:"Object"`
	}
	if err := readXML(r, &req); err != nil {
		writeS3Error(w, r, http.StatusBadRequest, "MalformedXML", err.Error())
		return
	}

	type deleted struct {
		Key string
	}
	result := struct {
		XMLName xml.Name  `xml:"DeleteResult"`
		Xmlns   string    `xml:"xmlns,attr"`
		Deleted []deleted `xml:"Deleted"`
	}{Xmlns: s3Namespace}

	s.mu.Lock()
	for _, obj := range req.Objects {
		delete(s.buckets[bucket], obj.Key)
		if !req.Quiet {
			result.Deleted = append(result.Deleted, deleted{Key: obj.Key})
		}
	}
	s.mu.Unlock()

	writeXML(w, http.StatusOK, result)
}

// ============================================================================
// Object operations
// ============================================================================

func (s *S3Server) serveObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	if !s.HasBucket(bucket) {
		writeS3Error(w, r, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
		return
	}

	q := r.URL.Query()
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.getObject(w, r, bucket, key)
	case http.MethodPut:
		switch {
		case q.Has("uploadId"):
			s.uploadPart(w, r, q)
		case r.Header.Get("X-Amz-Copy-Source") != "":
			s.copyObject(w, r, bucket, key)
		default:
			s.putObject(w, r, bucket, key)
		}
	case http.MethodPost:
		switch {
		case q.Has("uploads"):
			s.createMultipartUpload(w, r, bucket, key)
		case q.Has("uploadId"):
			s.completeMultipartUpload(w, r, q.Get("uploadId"))
		default:
			writeS3Error(w, r, http.StatusNotImplemented, "NotImplemented", "unsupported POST")
		}
	case http.MethodDelete:
		if q.Has("uploadId") {
			s.abortMultipartUpload(w, r, q.Get("uploadId"))
			return
		}
		s.mu.Lock()
		delete(s.buckets[bucket], key)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeS3Error(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed", r.Method)
	}
}

func (s *S3Server) getObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	s.mu.Lock()
	obj, ok := s.buckets[bucket][key]
	s.mu.Unlock()
	if !ok {
		writeS3Error(w, r, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.")
		return
	}

	// Ranged reads of an empty object return the whole (empty) body
	if len(obj.data) == 0 {
		r.Header.Del("Range")
	}
	w.Header().Set("Content-Type", obj.contentType)
	w.Header().Set("ETag", obj.etag)
	http.ServeContent(w, r, key, obj.modified, bytes.NewReader(obj.data))
}

func (s *S3Server) putObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	data, err := readPayload(r)
	if err != nil {
		writeS3Error(w, r, http.StatusBadRequest, "IncompleteBody", err.Error())
		return
	}

	obj := newFakeObject(data, r.Header.Get("Content-Type"))
	s.mu.Lock()
	s.buckets[bucket][key] = obj
	s.mu.Unlock()

	w.Header().Set("ETag", obj.etag)
	w.WriteHeader(http.StatusOK)
}

func (s *S3Server) copyObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	source, err := url.PathUnescape(r.Header.Get("X-Amz-Copy-Source"))
	if err != nil {
		writeS3Error(w, r, http.StatusBadRequest, "InvalidArgument", err.Error())
		return
	}
	source, _, _ = strings.Cut(strings.TrimPrefix(source, "/"), "?")
	srcBucket, srcKey, _ := strings.Cut(source, "/")

	s.mu.Lock()
	src, ok := s.buckets[srcBucket][srcKey]
	var obj *fakeObject
	if ok {
		obj = newFakeObject(src.data, src.contentType)
		s.buckets[bucket][key] = obj
	}
	s.mu.Unlock()
	if !ok {
		writeS3Error(w, r, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.")
		return
	}

	writeXML(w, http.StatusOK, struct {
		XMLName      xml.Name `xml:"CopyObjectResult"`
		LastModified string
		ETag         string
	}{
		LastModified: obj.modified.UTC().Format("2006-01-02T15:04:05.000Z"),
		ETag:         obj.etag,
	})
}

func (s *S3Server) createMultipartUpload(w http.ResponseWriter, r *http.Request, bucket, key string) {
	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("upload-%d", s.nextID)
	s.uploads[id] = &fakeUpload{
		bucket:      bucket,
		key:         key,
		contentType: r.Header.Get("Content-Type"),
		parts:       make(map[int][]byte),
	}
	s.mu.Unlock()

	writeXML(w, http.StatusOK, struct {
		XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
		Xmlns    string   `xml:"xmlns,attr"`
		Bucket   string
		Key      string
		UploadId string
	}{Xmlns: s3Namespace, Bucket: bucket, Key: key, UploadId: id})
}

func (s *S3Server) uploadPart(w http.ResponseWriter, r *http.Request, q url.Values) {
	number, err := strconv.Atoi(q.Get("partNumber"))
	if err != nil || number < 1 {
		writeS3Error(w, r, http.StatusBadRequest, "InvalidArgument", "bad part number")
		return
	}
	data, err := readPayload(r)
	if err != nil {
		writeS3Error(w, r, http.StatusBadRequest, "IncompleteBody", err.Error())
		return
	}

	s.mu.Lock()
	upload, ok := s.uploads[q.Get("uploadId")]
	if ok {
		upload.parts[number] = data
	}
	s.mu.Unlock()
	if !ok {
		writeS3Error(w, r, http.StatusNotFound, "NoSuchUpload", "The specified upload does not exist.")
		return
	}

	w.Header().Set("ETag", etagOf(data))
	w.WriteHeader(http.StatusOK)
}

func (s *S3Server) completeMultipartUpload(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Parts []struct {
			PartNumber int
			ETag       string
		} `xml:"Part"`
	}
	if err := readXML(r, &req); err != nil {
		writeS3Error(w, r, http.StatusBadRequest, "MalformedXML", err.Error())
		return
	}

	s.mu.Lock()
	upload, ok := s.uploads[id]
	if !ok {
		s.mu.Unlock()
		writeS3Error(w, r, http.StatusNotFound, "NoSuchUpload", "The specified upload does not exist.")
		return
	}
	var data []byte
	for _, p := range req.Parts {
		part, ok := upload.parts[p.PartNumber]
		if !ok {
			s.mu.Unlock()
			writeS3Error(w, r, http.StatusBadRequest, "InvalidPart", fmt.Sprintf("part %d was not uploaded", p.PartNumber))
			return
		}
		data = append(data, part...)
	}
	obj := newFakeObject(data, upload.contentType)
	obj.etag = fmt.Sprintf(`"%s-%d"`, strings.Trim(obj.etag, `"`), len(req.Parts))
	s.buckets[upload.bucket][upload.key] = obj
	delete(s.uploads, id)
	s.completed++
	s.mu.Unlock()

	writeXML(w, http.StatusOK, struct {
		XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
		Xmlns    string   `xml:"xmlns,attr"`
		Location string
		Bucket   string
		Key      string
		ETag     string
	}{
		Xmlns:    s3Namespace,
		Location: s.URL + "/" + upload.bucket + "/" + upload.key,
		Bucket:   upload.bucket,
		Key:      upload.key,
		ETag:     obj.etag,
	})
}

func (s *S3Server) abortMultipartUpload(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	_, ok := s.uploads[id]
	delete(s.uploads, id)
	s.mu.Unlock()
	if !ok {
		writeS3Error(w, r, http.StatusNotFound, "NoSuchUpload", "The specified upload does not exist.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Helpers
// ============================================================================

func newFakeObject(data []byte, contentType string) *fakeObject {
	if contentType == "" {
		contentType = "binary/octet-stream"
	}
	return &fakeObject{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		etag:        etagOf(data),
		modified:    time.Now(),
	}
}

func etagOf(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func sortedKeys(objects map[string]*fakeObject) []string {
	keys := make([]string, 0, len(objects))
	for k := range objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// readPayload returns the request body, decoding aws-chunked payloads.
func readPayload(r *http.Request) ([]byte, error) {
	chunked := strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") ||
		strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked")
	if !chunked {
		return io.ReadAll(r.Body)
	}
	return decodeAWSChunked(r.Body)
}

func readXML(r *http.Request, v any) error {
	body, err := readPayload(r)
	if err != nil {
		return err
	}
	return xml.Unmarshal(body, v)
}

// decodeAWSChunked strips the framing of an aws-chunked body:
// "<hex size>[;chunk-signature=...]\r\n<data>\r\n" repeated until a zero
// sized chunk, optionally followed by trailer headers, which are ignored.
func decodeAWSChunked(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	var out bytes.Buffer
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		sizeHex, _, _ := strings.Cut(strings.TrimRight(line, "\r\n"), ";")
		size, err := strconv.ParseInt(strings.TrimSpace(sizeHex), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parse chunk size %q: %w", sizeHex, err)
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, size); err != nil {
			return nil, fmt.Errorf("read chunk: %w", err)
		}
		if _, err := br.Discard(2); err != nil {
			return nil, fmt.Errorf("read chunk terminator: %w", err)
		}
	}
}

func writeXML(w http.ResponseWriter, status int, v any) {
	body, err := xml.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, xml.Header)
	_, _ = w.Write(body)
}

func writeS3Error(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	writeXML(w, status, struct {
		XMLName   xml.Name `xml:"Error"`
		Code      string
		Message   string
		Resource  string
		RequestID string `xml:"RequestId"`
	}{
		Code:      code,
		Message:   message,
		Resource:  r.URL.Path,
		RequestID: w.Header().Get("x-amz-request-id"),
	})
}
