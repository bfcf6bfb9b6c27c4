// Package report summarizes a finished run: parcel area statistics, an
// area histogram rendered with gonum/plot, and an HTML page of tile
// outcomes rendered with go-echarts.
package report
