package browser

var Launch = launch
