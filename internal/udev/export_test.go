package udev

var ListEntries = listEntries
